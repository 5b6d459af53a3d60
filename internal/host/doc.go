// Package host runs agents through their lifecycle on behalf of connected
// clients.
//
// A Host owns three registration slots. A newly registered agent occupies the
// installing slot while its setup runs, then either moves to the waiting slot
// or is activated straight away: when it asked to skip waiting, when nothing
// is active yet, or when the active agent no longer controls any client.
// Activating an agent makes it the controller of every client and retires the
// previous active agent.
//
// Clients are identified by an opaque id supplied by the front end. A client
// that has not been seen for the idle timeout is dropped by Sweep, which may in
// turn let a waiting agent take over.
package host
