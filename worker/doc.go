// Package worker isolates a detection engine behind an asynchronous message
// boundary.
//
// A Boundary owns one goroutine and one Session. The controller sends Init,
// Process, Resize and AddCode messages and reads Loaded, Result, ResizeNeeded
// and Ack replies from Events. The boundary accepts one Process at a time,
// applies configuration changes between jobs, and measures detection time to
// advise the controller when frames consistently exceed their budget:
//
//	b := worker.NewBoundary(engine.NewThreshold())
//	b.Start()
//	b.Send(worker.Init{Codes: codes, Width: w, Height: h, TargetFPS: 30})
//	for msg := range b.Events() {
//	    switch m := msg.(type) {
//	    case worker.Result:
//	        // m.Tags are in working-resolution coordinates
//	    }
//	}
//
// Frames move by ownership; a sender must not reuse a buffer after Send.
package worker
