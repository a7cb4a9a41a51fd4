// Package shutdown implements the fleet-aware teardown sequence: on
// the first fatal trigger, leave discovery, sweep this node's own
// rooms out of every tag this node still holds (or reset the replica
// outright if it was the last node standing), and broadcast a
// state:all so survivors refresh.
//
// The supervisor is sync.Once-guarded: any number of goroutines — the
// signal handler, a panic recovery, a failing transport loop — can
// trigger it concurrently without the sequence running twice.
package shutdown
