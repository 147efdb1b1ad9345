// Package supervisor runs the polling loop that watches a spawned child,
// the termination signal latch and the supervisor's own parent, and kills
// the child's whole process tree exactly once when either trigger fires.
//
// The loop is deliberately simple: it wakes up every poll interval, never
// blocks on the child, and gives the child a fixed grace period after the
// kill cascade before giving up.
package supervisor
