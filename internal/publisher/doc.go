// Package publisher implements the channel publisher: a bridge from a
// push-based channel.Channel to a demand-regulated stream.Publisher with
// exactly one subscriber.
//
// The bridge has three parts. The demand/buffer state machine owns the
// subscriber, the saturating demand counter, the FIFO buffer of undelivered
// elements and the terminal flags. The channel event adapter forwards channel
// events to the state machine and applies its pause/resume directives to the
// channel read-enable flag. The subscription handle marshals Request and
// Cancel from arbitrary goroutines onto the owning event loop.
//
// All state lives on the loop goroutine, so the delivery path takes no locks.
package publisher
