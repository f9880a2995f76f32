// Package health reports whether the document store can be read.
//
// Monitor.Run(ctx) calls Check on the repository every interval and sets the
// serving status of a grpc health.Server; Monitor.Probe runs one check on
// demand for GET /health.
package health
