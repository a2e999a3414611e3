package server

import (
	"time"

	"github.com/opd-ai/glitter"
	"github.com/opd-ai/glitter/engine"
)

// Event types.
const (
	EventTags      = "tags"
	EventCalibrate = "calibrate"
	EventError     = "error"
)

// Event is the JSON message sent to websocket clients.
type Event struct {
	Type        string    `json:"type"`
	Time        time.Time `json:"time"`
	Seq         uint64    `json:"seq,omitempty"`
	Decimate    float64   `json:"decimate,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	DetectionMs float64   `json:"detection_ms,omitempty"`
	Tags        []Tag     `json:"tags,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Tag is a detected tag in source coordinates.
type Tag struct {
	Code    uint32        `json:"code"`
	Corners [4][2]float64 `json:"corners"`
	Center  [2]float64    `json:"center"`
}

func tagsEvent(ev glitter.TagsEvent) Event {
	tags := make([]Tag, len(ev.Tags))
	for i, t := range ev.Tags {
		tags[i] = wireTag(t)
	}
	return Event{
		Type:        EventTags,
		Time:        ev.CapturedAt,
		Seq:         ev.Seq,
		Decimate:    ev.Decimate,
		Width:       ev.Width,
		Height:      ev.Height,
		DetectionMs: float64(ev.Detection) / float64(time.Millisecond),
		Tags:        tags,
	}
}

func wireTag(t engine.Tag) Tag {
	out := Tag{
		Code:   t.Code,
		Center: [2]float64{t.Quad.Center.X, t.Quad.Center.Y},
	}
	for i, p := range t.Quad.Corners {
		out.Corners[i] = [2]float64{p.X, p.Y}
	}
	return out
}

func calibrateEvent(factor float64) Event {
	return Event{Type: EventCalibrate, Time: time.Now(), Decimate: factor}
}

func errorEvent(err error) Event {
	return Event{Type: EventError, Time: time.Now(), Error: err.Error()}
}
