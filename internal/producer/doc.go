// Package producer provides deterministic upstreams that emit sequential
// int64 values into a channel.Channel in batches, optionally after a clock
// delay, and end the stream by closing the channel, by an explicit finished
// signal, or by a failure.
package producer
