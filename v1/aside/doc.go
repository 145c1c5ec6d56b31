// Package aside implements read-through caching with stampede protection.
//
// A Cache checks its store first and returns a decoded hit without taking
// any lock. On a miss it asks the lock coordinator for the key's lock; only
// the holder runs the producer and writes the result back with the given
// TTL. Callers that never obtain the lock get OutcomeUnavailable, which
// GetOrSet reports as the zero value.
//
// The store is not re-read after the lock is granted. Two callers that both
// miss can therefore each produce once when the first holder outlives the
// lock expiry; duplication is bounded to one produce per lock window.
//
// Every call comes in two forms with the same behaviour: GetOrSet and Fetch
// block the calling goroutine, including while lock attempts back off, and
// GetOrSetAsync and FetchAsync return a Future right away and park on a timer
// between attempts.
package aside
