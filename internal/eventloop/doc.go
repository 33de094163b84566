// Package eventloop provides the single-goroutine execution context that owns
// channel and publisher state.
//
// A Loop drains an unbounded FIFO task queue on one goroutine. Execute never
// blocks the caller, so it is the marshaling point for calls that originate on
// arbitrary goroutines: tasks run strictly in the order they were enqueued and
// never concurrently with one another.
package eventloop
