// Package auth enforces the shared API key.
//
// A Guard is built from config.AuthConfig and exposes the same check as HTTP
// middleware (401 {"error":"unauthorized"}) and as gRPC unary and stream
// interceptors (codes.Unauthenticated). With mode "none" every request
// passes. With mode "apikey" and no key in the environment every request
// fails.
package auth
