// Package token reads expiry metadata out of opaque bearer credentials.
//
// Credentials use the compact header.payload.signature layout. The payload
// segment is base64-decoded and parsed as JSON; the signature is never
// checked. The package answers "when does this expire", not "is this valid".
//
// # What this package must NOT do
//
//   - Verify signatures or trust decoded claims for authorization.
//   - Panic or return errors past [Decode]: malformed input yields (nil, false).
//   - Perform I/O.
package token
