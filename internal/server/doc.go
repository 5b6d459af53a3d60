// Package server hosts the Fiber HTTP front of the agent. Every path outside
// the /-/ namespace is mapped onto the configured origin and handed to the
// host, which routes it to the controlling agent or straight to the network.
// Diagnostics and lifecycle endpoints live in the routes subpackage and share
// the request and client identifiers resolved by the middleware here.
package server
