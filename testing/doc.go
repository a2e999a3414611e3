// Package testing provides simulated pipeline collaborators for
// deterministic testing of the glitter module.
//
// # Overview
//
// The production pipeline talks to a camera through source.Source and to a
// detector through engine.Engine. This package implements both contracts
// in memory so tests can drive the controller and the worker boundary
// without real frames or a real detector.
//
//   - SimulatedEngine returns scripted tags, optionally after a delay, with
//     an error, by panicking, or by blocking until released. Every Detect
//     call is logged with the resolution and decimation it saw.
//
//   - SimulatedSource serves uniform grayscale frames whose brightness
//     changes per read, and can be made not-ready, frozen or unavailable.
//
//   - StepClock is a scheduler.TimeProvider that advances by a fixed step on
//     every Now call, so a tick that reads the clock at its start and end
//     measures exactly one step.
//
// # Usage
//
//	eng := testing.NewSimulatedEngine()
//	eng.SetTags([]engine.Tag{{Code: 7, Quad: quad}})
//
//	src := testing.NewSimulatedSource(1920, 1080)
//	clock := testing.NewStepClock(time.Unix(0, 0), 40*time.Millisecond)
//
//	d, _ := glitter.New(src, eng, []uint32{7}, glitter.DefaultOptions())
//	d.SetTimeProvider(clock)
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The worker
// boundary calls SimulatedEngine from its own goroutine while tests inspect
// it from theirs.
package testing
