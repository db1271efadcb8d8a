package client

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Payload is a raw JSON document returned by the upstream API. The
// upstream contract may evolve, so responses are passed through
// verbatim rather than mapped to fixed schemas; callers needing
// strong typing unmarshal into their own structs.
type Payload []byte

// Get looks up a value by gjson path, e.g. "zaehlpunkte.0.zaehlpunktnummer".
func (p Payload) Get(path string) gjson.Result {
	return gjson.GetBytes(p, path)
}

// Unmarshal decodes the payload into v.
func (p Payload) Unmarshal(v any) error {
	if err := json.Unmarshal(p, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Map decodes the payload into a generic map. The payload must be a
// JSON object.
func (p Payload) Map() (map[string]any, error) {
	var m map[string]any
	if err := p.Unmarshal(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func (p Payload) String() string {
	return string(p)
}
