// Package process spawns and tracks the single child command under
// supervision.
//
// A Child is started with the supervisor's standard streams and reaped by a
// background goroutine; the supervision loop polls Child.Exited on every tick
// instead of blocking in Wait. Status maps the wait result to the exit code
// the supervisor reports:
//   - the child's own code when it exited normally
//   - ExitFallback when it was killed by a signal and reported no code
//
// State, Reason and Info describe the supervisor lifecycle for logging, the
// event bus and the status API.
package process
