package glitter

import "errors"

var (
	// ErrSourceUnavailable is returned by Start when the frame source cannot
	// be acquired.
	ErrSourceUnavailable = errors.New("frame source unavailable")

	// ErrWorkerInit is returned by Start when the detector session fails to load.
	ErrWorkerInit = errors.New("detector worker failed to initialize")

	// ErrWorkerUnresponsive is reported through OnError when a detection
	// job exceeds DetectTimeout. The pipeline stops.
	ErrWorkerUnresponsive = errors.New("detector worker unresponsive")

	// ErrInvalidOptions is returned when options fail validation.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrInvalidCode is returned for the zero code.
	ErrInvalidCode = errors.New("code must be non-zero")

	// ErrAlreadyRunning is returned by Start on a running detector.
	ErrAlreadyRunning = errors.New("detector is already running")

	// ErrNilSource is returned by New without a source.
	ErrNilSource = errors.New("source cannot be nil")

	// ErrNilEngine is returned by New without an engine.
	ErrNilEngine = errors.New("engine cannot be nil")
)
