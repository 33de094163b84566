// Package channel models the single-owner I/O channel feeding a publisher.
//
// A Channel is bound to one eventloop.Loop. Every event it fires and every
// handler callback it makes runs on that loop, in call order. Composition is
// explicit: a Channel holds direct references to its Upstream (which produces
// elements when asked to read) and its Handler (which consumes them).
package channel
