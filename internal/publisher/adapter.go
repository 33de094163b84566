package publisher

import (
	"chanpub/internal/channel"
)

// adapter translates channel events into state machine operations.
// It runs exclusively on the owning loop.
type adapter[T any] struct {
	publisher *Publisher[T]

	finished bool
}

func (a *adapter[T]) Active(ch *channel.Channel[T]) {
	a.publisher.bind(ch)
}

func (a *adapter[T]) Read(ch *channel.Channel[T], element T) {
	if !a.publisher.bind(ch) {
		return
	}
	a.publisher.onElement(element)
}

func (a *adapter[T]) Finished(ch *channel.Channel[T]) {
	if !a.publisher.bind(ch) {
		return
	}
	a.finished = true
	a.publisher.onUpstreamCompleted()
}

func (a *adapter[T]) Failed(ch *channel.Channel[T], err error) {
	if !a.publisher.bind(ch) {
		return
	}
	a.finished = true
	a.publisher.onUpstreamFailed(err)
}

// Inactive without an explicit finished or failed signal completes the stream.
func (a *adapter[T]) Inactive(ch *channel.Channel[T]) {
	if !a.publisher.bind(ch) || a.finished {
		return
	}
	a.finished = true
	a.publisher.onUpstreamCompleted()
}

var _ channel.Handler[int] = (*adapter[int])(nil)
