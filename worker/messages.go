package worker

import (
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/glitter/engine"
	"github.com/opd-ai/glitter/preprocess"
)

// Kind identifies a boundary message.
type Kind uint8

const (
	// KindInit creates a detector session.
	KindInit Kind = iota
	// KindProcess submits one frame for detection.
	KindProcess
	// KindResize changes the session resolution and decimation factor.
	KindResize
	// KindAddCode registers an additional code.
	KindAddCode
	// KindLoaded reports that a session is ready.
	KindLoaded
	// KindResult carries a detection result.
	KindResult
	// KindResizeNeeded advises the controller that detection is too slow.
	KindResizeNeeded
	// KindAck confirms a Resize or AddCode.
	KindAck
)

// String returns the string representation of the message kind.
func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindProcess:
		return "process"
	case KindResize:
		return "resize"
	case KindAddCode:
		return "add code"
	case KindLoaded:
		return "loaded"
	case KindResult:
		return "result"
	case KindResizeNeeded:
		return "resize needed"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Message is anything that crosses the boundary.
type Message interface {
	Kind() Kind
}

// Init starts a new session. Any previous session is discarded.
type Init struct {
	Codes     []uint32
	Width     int
	Height    int
	Decimate  float64
	TargetFPS float64
	Options   engine.Options
}

// Process hands a frame to the worker. The sender gives up the frame and
// must not touch it afterwards.
type Process struct {
	Frame *preprocess.FrameBuffer
}

// Resize changes the working resolution for subsequent jobs.
type Resize struct {
	Width    int
	Height   int
	Decimate float64
}

// AddCode registers a code with the engine.
type AddCode struct {
	Code uint32
}

// Loaded answers Init.
type Loaded struct {
	SessionID uuid.UUID
	Width     int
	Height    int
	Err       error
}

// Result answers Process. Tags are in the working-resolution space of the
// frame; Decimate is the factor the frame was captured at.
type Result struct {
	SessionID  uuid.UUID
	Seq        uint64
	Tags       []engine.Tag
	Width      int
	Height     int
	Decimate   float64
	CapturedAt time.Time
	Detection  time.Duration
	Err        error
}

// ResizeNeeded is sent when detection has exceeded the frame budget for too
// many consecutive jobs.
type ResizeNeeded struct {
	SessionID uuid.UUID
	BadFrames int
	Detection time.Duration
}

// Ack answers Resize and AddCode.
type Ack struct {
	For Kind
	Err error
}

func (Init) Kind() Kind         { return KindInit }
func (Process) Kind() Kind      { return KindProcess }
func (Resize) Kind() Kind       { return KindResize }
func (AddCode) Kind() Kind      { return KindAddCode }
func (Loaded) Kind() Kind       { return KindLoaded }
func (Result) Kind() Kind       { return KindResult }
func (ResizeNeeded) Kind() Kind { return KindResizeNeeded }
func (Ack) Kind() Kind          { return KindAck }
