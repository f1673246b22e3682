package viewer

import (
	"encoding/json"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/tiledgeojson/internal/service"
)

// Signals provides typed access to Datastar signal values. Datastar sends
// all signals as a flat JSON object in the request body; names are
// lowercase because of data-bind.
type Signals map[string]any

// ParseSignals parses Datastar signals from a raw request body.
func ParseSignals(body []byte) (Signals, error) {
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// String returns a string signal value, or empty string if not found.
func (s Signals) String(key string) string {
	if str, ok := s[key].(string); ok {
		return str
	}
	return ""
}

// Float returns a number signal, or 0 if not found. Inputs bound with
// data-bind arrive as strings, which are parsed too.
func (s Signals) Float(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case string:
		var f float64
		if _, err := fmt.Sscan(v, &f); err == nil {
			return f
		}
	}
	return 0
}

// Bool returns a bool signal value, or false if not found.
func (s Signals) Bool(key string) bool {
	b, _ := s[key].(bool)
	return b
}

// Has returns true if the signal exists (even if empty/zero).
func (s Signals) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Viewport reads the viewport signals west, south, east, north, zoom and
// hidpi.
func (s Signals) Viewport() (service.Viewport, error) {
	for _, key := range []string{"west", "south", "east", "north", "zoom"} {
		if !s.Has(key) {
			return service.Viewport{}, fmt.Errorf("missing signal %q", key)
		}
	}
	vp := service.Viewport{
		West:        s.Float("west"),
		South:       s.Float("south"),
		East:        s.Float("east"),
		North:       s.Float("north"),
		Zoom:        s.Float("zoom"),
		HighDensity: s.Bool("hidpi"),
	}
	if err := vp.Validate(); err != nil {
		return service.Viewport{}, err
	}
	return vp, nil
}

// SignalsInput is an input struct for handlers that receive Datastar
// signals.
type SignalsInput struct {
	RawBody []byte
}

// MustParse parses signals or returns a Huma error.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	return signals, nil
}
