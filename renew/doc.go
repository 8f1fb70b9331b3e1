// Package renew runs the periodic check that renews a bearer credential
// before it expires.
//
// Each tick reads the current credential, decodes its expiry and asks the
// target to renew when the remaining lifetime is at or below the threshold,
// or when the credential cannot be decoded. Ticks are skipped while the
// target is not authenticated.
//
// # What this package must NOT do
//
//   - Touch the credential store directly; the target owns all writes.
//   - Keep running after Stop: every loop exits when its context ends.
package renew
