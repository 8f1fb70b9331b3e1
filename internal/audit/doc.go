// Package audit dispatches session lifecycle events to a sink off the
// caller's goroutine.
//
// # Architecture boundaries
//
// This package owns buffering and delivery only. Which events exist and
// when they fire is decided by the session manager.
//
// # What this package must NOT do
//
//   - Filter events based on their content.
//   - Import dashauth or any sibling package.
package audit
