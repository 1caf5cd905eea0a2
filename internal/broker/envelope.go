package broker

import (
	"encoding/json"
	"fmt"
)

// Parameters accompany every job payload.
type Parameters struct {
	Force    bool           `json:"force"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetadataString returns a string metadata value when present.
func (p Parameters) MetadataString(key string) string {
	if p.Metadata == nil {
		return ""
	}
	if value, ok := p.Metadata[key].(string); ok {
		return value
	}
	return ""
}

// Envelope is the wire form of a job.
type Envelope[T any] struct {
	Payload    T          `json:"payload"`
	Parameters Parameters `json:"parameters"`
}

// Encode serializes payload and params as a UTF-8 JSON envelope.
func Encode[T any](payload T, params Parameters) ([]byte, error) {
	body, err := json.Marshal(Envelope[T]{Payload: payload, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return body, nil
}

// Decode parses an envelope produced by Encode.
func Decode[T any](body []byte) (Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}
