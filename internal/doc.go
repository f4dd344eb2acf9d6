// Package internal holds shared helpers for the trustgate engine that must
// never leak into the public API: code generation, hashing, and the Redis
// stores under internal/.
package internal
