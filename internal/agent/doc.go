// Package agent implements the offline caching agent: a small state machine
// driven by four events delivered from its host.
//
//   - Setup provisions the cache region named after the generation tag with the
//     configured asset list. Every asset is fetched first; the region is only
//     written when all fetches succeeded with a 2xx status.
//   - Activate removes every region whose name differs from the current
//     generation tag and then claims the host's clients.
//   - Intercept answers a request from any cache region, falling back to the
//     network. Network responses are never written back.
//   - Message reacts to {"type":"SKIP_WAITING"} by asking the host to activate
//     the agent immediately.
//
// Lookups read the list of region names once when they start. A region removed
// while a lookup is in flight is treated as a miss for that region, so a
// request may fall through to the network during activation but never fails
// because of it.
package agent
