// Package server hosts the Fiber HTTP surface: request-ID middleware, the
// download command route and its error mapping. Diagnostics endpoints live in
// the routes subpackage and are attached by the caller.
package server
