// Package cache defines the Cache Store abstraction the agent keeps its cache
// regions in. A region is a named, persistent key-value store mapping a request
// identity (absolute URL) to an immutable response snapshot. Several regions
// may coexist, one per generation tag ever provisioned; the agent's reaper
// removes the stale ones on activation.
//
// Backends are registered as drivers (memory, fs, leveldb, redis, s3) and
// selected by name from configuration. Persistent drivers share one msgpack
// envelope format for stored responses. The package also provides Match, the
// exact-request lookup across every region in creation order.
package cache
