// Package internaldefs holds the metric names and bucket layout shared by
// the exporter packages.
//
// Both the Prometheus and OTel exporters read these tables, so a rename
// here changes every exporter at once.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
