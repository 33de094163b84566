package channel

// Upstream produces elements into a channel on request.
//
// Read is invoked on the owning loop when the channel wants more data and no
// read is outstanding. Implementations emit zero or more elements with
// FireRead and then call FireReadComplete; they may instead end the stream
// with FireFinished, FireFailed, or Close. An Upstream must not emit elements
// while no read is outstanding.
type Upstream[T any] interface {
	Read(ch *Channel[T])
}

// Handler consumes channel events. All methods run on the owning loop.
type Handler[T any] interface {
	// Active is called once when the channel is registered.
	Active(ch *Channel[T])
	// Read delivers one element.
	Read(ch *Channel[T], element T)
	// Finished reports normal end of stream signaled by the upstream.
	Finished(ch *Channel[T])
	// Failed reports upstream failure.
	Failed(ch *Channel[T], err error)
	// Inactive is called once when the channel closes.
	Inactive(ch *Channel[T])
}

// UpstreamFunc adapts a function into an Upstream.
type UpstreamFunc[T any] func(ch *Channel[T])

// Read implements Upstream.
func (f UpstreamFunc[T]) Read(ch *Channel[T]) {
	f(ch)
}

// discardHandler drops every event. Detached channels route to it.
type discardHandler[T any] struct{}

func (discardHandler[T]) Active(*Channel[T])        {}
func (discardHandler[T]) Read(*Channel[T], T)       {}
func (discardHandler[T]) Finished(*Channel[T])      {}
func (discardHandler[T]) Failed(*Channel[T], error) {}
func (discardHandler[T]) Inactive(*Channel[T])      {}
