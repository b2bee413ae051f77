// Package heartbeat provides liveness reporting for long running loops.
//
// A loop calls Sink.Send once per iteration with a margin: the time after
// which the loop is considered stalled if no further Send arrives. Before the
// loop exits on purpose it calls Sink.Suspend so that the silence is not
// mistaken for a stall.
//
// Key Components:
//
//   - Sink: the interface the loops report to.
//
//   - Monitor: a Sink that tracks one deadline per source and lists the
//     sources that missed theirs.
//
//   - Nop: a Sink that ignores all reports.
package heartbeat
