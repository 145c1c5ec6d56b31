// Package lock provides the Coordinator that guards cache population with a
// time-bounded exclusive lock, plus Redis, NATS JetStream and in-memory lock
// backends.
//
// A backend only has to offer a single non-blocking attempt (Locker). The
// Coordinator layers a fixed-delay bounded retry on top and exposes it in two
// modes that share one attempt loop: Acquire parks the calling goroutine
// between attempts, AcquireAsync returns at once and runs the attempts on its
// own goroutine. Running out of attempts is not an error; the returned Handle
// simply reports Acquired == false.
package lock
