// Package session implements Redis-backed session storage with bounded
// concurrency admission.
//
// Each session is a JSON document under its own key with a Redis TTL equal
// to the absolute session lifetime. A per-user sorted set indexes live
// session IDs scored by last activity. Issue runs count-and-evict as a Lua
// script so two concurrent logins against a full account cannot both slip
// past the cap: the stalest session is evicted (oldest last activity, then
// oldest creation time) and the new login is always admitted.
//
// Expiry is absolute. Touch refreshes the activity score used for eviction
// ordering but never extends the session lifetime.
package session
