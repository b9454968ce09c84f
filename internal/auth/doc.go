// Package auth provides authentication and authorisation for Tier List Core.
//
// It is built from five cooperating pieces:
//   - TokenCodec issues and verifies HS256 bearer tokens carrying a username and role set
//   - RevocationStore tracks tokens invalidated by logout until they expire naturally
//   - Authenticator turns a raw token into a Principal, and credentials into a token
//   - Gate is the per-request middleware that attaches a Principal to the context
//   - Policy makes every allow/deny decision for tier, item, and user actions
//
// The Gate never rejects a request. A missing, malformed, expired, or revoked
// token all degrade to "no principal", and the Policy turns that into
// ErrUnauthenticated when the action needs an identity. Callers therefore
// cannot learn why a token was refused.
//
// Roles are a closed set {USER, ADMIN} held as a RoleSet bitmask. Role claims
// are a snapshot taken at login; set the authenticator's RoleSource to
// RoleSourceLive to re-read the user record on every request instead.
//
// Passwords are hashed with Argon2id. Hashes produced by the previous bcrypt
// implementation are still accepted at login.
package auth
