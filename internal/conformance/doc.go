// Package conformance checks stream.Publisher implementations against the
// reactive streams publisher rules.
//
// A Verifier runs each Rule against fresh publishers built by a Factory. The
// matrix helpers reproduce the batched producer wiring over every combination
// of batch size, pre-subscription elements, completion mode and scheduling.
package conformance
