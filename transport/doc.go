// Package transport calls the remote authentication backend over HTTP.
//
// Every call is bounded by a fixed timeout, carries the bearer credential
// when one is held, and relies on the client's cookie jar for the refresh
// credential. Failures are returned as [*Error] with a [Kind] classifying
// the cause; callers decide what a failure means for the session.
//
// # Architecture boundaries
//
// The transport never persists credentials. Login and Refresh return the new
// bearer credential and user payload; storing them is the caller's job.
//
// # What this package must NOT do
//
//   - Write to the credential store.
//   - Retry requests on its own.
//   - Decode or verify bearer credentials.
package transport
