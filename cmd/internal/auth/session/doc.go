// Package session implements handoff's web sessions.
//
// A session is a server-side record binding an opaque id to a user identity.
// It is created once (by a pairing redemption or a password login), read many
// times by protected handlers, and never extended by use: it simply stops
// verifying once expires_at passes.
//
// Session ids are opaque random strings; there are no bearer claims to verify,
// so every check is a store lookup (optionally through CachedStore).
//
// Transport (HTTP) integration lives in the auth/api package.
package session
