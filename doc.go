// Package dashauth is a client-side authentication session manager for a
// dashboard that sits behind a login gate.
//
// A [Manager] tracks whether a user is signed in, persists that belief in a
// [store.Store] so it survives restarts, renews the short-lived bearer
// credential before it expires, and answers the questions a route guard
// asks. It is built once with [Builder.Build], shared by every consumer, and
// torn down with [Manager.Close].
//
// # State machine
//
// The session starts idle. Actions move it through loading into
// authenticated, unauthenticated or error; none of those is terminal. After
// every transition the invariants hold: IsAuthenticated is true exactly when
// Status is authenticated and a user is present, Error is only set in the
// error status, and IsLoading mirrors the loading status.
//
// # Trust policy
//
// [Manager.CheckAuth] trusts the credential store without a network round
// trip. Staleness is bounded by the renewal scheduler: a cached session is
// re-checked against the backend at most [Manager.StalenessBound] after it
// was last renewed.
//
// # Architecture boundaries
//
// The root package owns session state and is the only writer of the
// credential store. Token decoding lives in token, persistence in store,
// HTTP in transport, scheduling in renew and HTTP gating in middleware.
//
// # What this package must NOT do
//
//   - Verify token signatures or treat decoded claims as proof of identity.
//   - Return transport failures as Go errors from session actions; they are
//     folded into [Result] and the session error field.
//   - Keep package-level mutable session state.
package dashauth
