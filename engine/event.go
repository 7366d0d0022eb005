package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// EventType tags an engine event.
type EventType string

const (
	EventIdle           EventType = "idle"
	EventFileStart      EventType = "file-start"
	EventFileEnd        EventType = "file-end"
	EventPropertyChange EventType = "property-change"
	EventTrackList      EventType = "track-list"
	EventChapterList    EventType = "chapter-list"
)

// ErrMalformed is wrapped by decode errors for events that do not match the schema.
var ErrMalformed = errors.New("malformed engine event")

// Event is the tagged union pushed by the engine worker. Only the fields
// belonging to Type are meaningful.
type Event struct {
	Type        EventType     `json:"type" cbor:"type"`
	ShaderCount int           `json:"shaderCount,omitempty" cbor:"shaderCount,omitempty"`
	Name        string        `json:"name,omitempty" cbor:"name,omitempty"`
	Value       any           `json:"value,omitempty" cbor:"value,omitempty"`
	Tracks      []TrackInfo   `json:"tracks,omitempty" cbor:"tracks,omitempty"`
	Chapters    []ChapterInfo `json:"chapters,omitempty" cbor:"chapters,omitempty"`
}

// TrackInfo is one entry of a track-list event.
type TrackInfo struct {
	ID       Int64  `json:"id" cbor:"id"`
	Type     string `json:"type" cbor:"type"`
	SrcID    Int64  `json:"src-id,omitempty" cbor:"src-id,omitempty"`
	Lang     string `json:"lang,omitempty" cbor:"lang,omitempty"`
	Title    string `json:"title,omitempty" cbor:"title,omitempty"`
	Codec    string `json:"codec,omitempty" cbor:"codec,omitempty"`
	Selected bool   `json:"selected,omitempty" cbor:"selected,omitempty"`
}

// ChapterInfo is one entry of a chapter-list event.
type ChapterInfo struct {
	Title string  `json:"title" cbor:"title"`
	Time  float64 `json:"time" cbor:"time"`
}

// Property builds a property-change event.
func Property(name string, value any) Event {
	return Event{Type: EventPropertyChange, Name: name, Value: value}
}

// Validate checks that the event is one of the known variants.
func (e Event) Validate() error {
	switch e.Type {
	case EventIdle, EventFileStart, EventFileEnd, EventTrackList, EventChapterList:
		return nil
	case EventPropertyChange:
		if e.Name == "" {
			return fmt.Errorf("%w: property-change without name", ErrMalformed)
		}
		return nil
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Type)
}

// DecodeJSON parses one event as sent by the engine worker.
func DecodeJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, e.Validate()
}

// ---------------------------------------------------------------------------
// Property value accessors
// ---------------------------------------------------------------------------

// Int returns the value as an integer. Numbers, decimal strings and
// booleans are accepted; "no" and false read as 0.
func (e Event) Int() (int64, bool) {
	switch v := e.Value.(type) {
	case int64:
		return v, true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), v == math.Trunc(v)
	case string:
		if v == "no" {
			return 0, true
		}
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Float returns the value as a float.
func (e Event) Float() (float64, bool) {
	switch v := e.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	if n, ok := e.Int(); ok {
		return float64(n), true
	}
	return 0, false
}

// Bool returns the value as a boolean.
func (e Event) Bool() (bool, bool) {
	switch v := e.Value.(type) {
	case bool:
		return v, true
	case string:
		switch v {
		case "yes", "true":
			return true, true
		case "no", "false":
			return false, true
		}
	}
	return false, false
}

// Text returns the value as a string.
func (e Event) Text() (string, bool) {
	s, ok := e.Value.(string)
	return s, ok
}

// ---------------------------------------------------------------------------
// Int64
// ---------------------------------------------------------------------------

// Int64 is an integer that may be transported as a decimal string, which is
// how 64-bit values cross the engine worker boundary.
type Int64 int64

func (n *Int64) set(v any) error {
	e := Event{Value: v}
	i, ok := e.Int()
	if !ok {
		if v == nil {
			*n = 0
			return nil
		}
		return fmt.Errorf("cannot use %v (%T) as integer", v, v)
	}
	*n = Int64(i)
	return nil
}

// UnmarshalJSON accepts numbers and decimal strings.
func (n *Int64) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return n.set(v)
}

// UnmarshalCBOR accepts integers and decimal strings.
func (n *Int64) UnmarshalCBOR(b []byte) error {
	var v any
	if err := cbor.Unmarshal(b, &v); err != nil {
		return err
	}
	return n.set(v)
}
