// Package middleware protects net/http routes with a dashauth session.
//
// # Guards
//
//   - [Guard] runs [Decide] and answers with the page for the outcome.
//   - [RequireSession] trusts stored credentials; no backend call.
//   - [RequireVerified] confirms the session with the backend first.
//
// Unauthenticated requests are redirected with 303 to the login path, with
// the requested URL in the "from" query parameter. [ReturnTo] reads it back
// and rejects anything but a local path. Forbidden requests get a 403 page
// and are never redirected.
//
// # Architecture boundaries
//
// This package translates session state into HTTP responses. All session
// transitions are made by the [SessionSource].
//
// # What this package must NOT do
//
//   - Read or write the credential store.
//   - Call the authentication backend directly.
//   - Redirect to a non-local "from" target.
package middleware
