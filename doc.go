// Package glitter implements a real-time fiducial detection pipeline.
//
// A Detector samples frames from a source at a target rate, converts them
// to grayscale at a working resolution and hands them to a detection engine
// running on its own goroutine. Results are delivered to observers with tag
// coordinates in source resolution.
//
// When ticks keep running past the frame budget the detector lowers the
// working resolution in small steps ("decimation") until the pipeline keeps
// up or the configured maximum is reached.
//
// Example:
//
//	src, err := source.NewSynthetic(1280, 720)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	det, err := glitter.New(src, engine.NewThreshold(), glitter.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	det.AddCode(1)
//
//	det.OnTagsFound(func(ev glitter.TagsEvent) {
//	    for _, tag := range ev.Tags {
//	        fmt.Println(tag)
//	    }
//	})
//	det.OnCalibrate(func(factor float64) {
//	    fmt.Printf("working resolution divided by %.3f\n", factor)
//	})
//
//	if err := det.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer det.Stop()
//
// Frames captured while the engine is busy are queued according to
// Options.ImBufQueueLength. At most one detection runs at a time.
package glitter
