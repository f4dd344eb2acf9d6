// Package trustgate provides an identity security policy and session trust
// engine: scoped security policies, account lockout, IP/geo gating, additive
// risk scoring, MFA step-up with device remembering, and concurrent-session
// admission with deterministic eviction, backed by Redis.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// trustgate is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (SecurityPolicy, AuthDecision, LoginHistoryEntry, etc.).
// Durable records — policies, devices, enrolled MFA methods, login history —
// flow through caller-supplied providers; hot authentication state (lockout
// counters, sessions, MFA challenges, remember-device windows, velocity
// counters) lives in Redis and is owned by the engine.
//
// # What this package must NOT do
//
//   - Store or verify raw credentials. Credential verification is delegated
//     to the caller-supplied [CredentialVerifier].
//   - Expose Redis clients, internal stores, or key layouts in its public API.
//   - Block a login on risk score alone. Risk scoring annotates and can force
//     MFA step-up, but never denies by itself.
//
// # Decision ordering contract
//
// Authenticate evaluates checks in a fixed order: policy resolution, network
// gating and lockout state before credential verification, risk scoring and
// MFA after credential success, session admission last. Every attempt ends
// with exactly one login history record.
package trustgate
