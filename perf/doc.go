// Package perf records pipeline latencies and summarizes them.
//
// A Recorder keeps a moving average and peak for cheap per-tick logging and
// a window of recent samples for distribution reports computed with gonum's
// stat package.
package perf
