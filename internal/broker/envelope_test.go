package broker_test

import (
	"encoding/json"
	"errors"
	"testing"

	"ctscribe/internal/broker"
)

type samplePayload struct {
	VideoID string `json:"video_id"`
}

func TestEnvelopeRoundTripPreservesForce(t *testing.T) {
	params := broker.Parameters{Force: true, Metadata: map[string]any{"language": "fr-CA", "requested_by": "ops"}}
	body, err := broker.Encode(samplePayload{VideoID: "v1"}, params)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var wire map[string]json.RawMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("envelope is not a JSON object: %v", err)
	}
	if _, ok := wire["payload"]; !ok {
		t.Fatalf("expected payload field in %s", body)
	}
	if _, ok := wire["parameters"]; !ok {
		t.Fatalf("expected parameters field in %s", body)
	}

	env, err := broker.Decode[samplePayload](body)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !env.Parameters.Force {
		t.Fatal("expected force=true after round trip")
	}
	if env.Payload.VideoID != "v1" {
		t.Fatalf("unexpected payload: %+v", env.Payload)
	}
	if env.Parameters.MetadataString("language") != "fr-CA" {
		t.Fatalf("unexpected metadata: %+v", env.Parameters.Metadata)
	}
	if env.Parameters.MetadataString("missing") != "" {
		t.Fatal("expected empty string for missing metadata")
	}
}

func TestEnvelopeDefaultsWhenParametersOmitted(t *testing.T) {
	env, err := broker.Decode[samplePayload]([]byte(`{"payload":{"video_id":"v2"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Parameters.Force || env.Parameters.Metadata != nil {
		t.Fatalf("expected zero parameters, got %+v", env.Parameters)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := broker.Decode[samplePayload]([]byte("{not json")); !errors.Is(err, broker.ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	for input, want := range map[string]broker.FailurePolicy{
		"":            broker.PolicyAck,
		"ACK":         broker.PolicyAck,
		"requeue":     broker.PolicyRequeue,
		"dead_letter": broker.PolicyDeadLetter,
	} {
		got, err := broker.ParseFailurePolicy(input)
		if err != nil || got != want {
			t.Fatalf("ParseFailurePolicy(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := broker.ParseFailurePolicy("retry-forever"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
