// Package prof collects runtime/pprof profiles for a run of uacd.
//
// Profiling is compiled in with the "profile" build tag:
//
//	go build -tags profile ./cmd/uacd
//	uacd --profile.cpu cpu.prof --profile.mutex mutex.prof sim --frames 60000
//
// Without the tag, [Start] accepts empty [Options] and rejects anything
// else with pkg.ErrNotSupported.
//
// CPU profiling runs from [Start] until the returned stop function is
// called. Heap, block and mutex profiles are snapshots written by stop;
// selecting block or mutex also turns on the corresponding sampling.
// Options.HTTP serves the net/http/pprof handlers for live inspection of
// a long serve session.
package prof
