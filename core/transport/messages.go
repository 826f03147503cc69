package transport

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

const (
	typeInterruptSignal = "interrupt-signal"
	typeMicAudioData    = "mic-audio-data"
	typeMicAudioEnd     = "mic-audio-end"
	typeTextInput       = "text-input"

	typeAudio     = "audio"
	typeSessionID = "session-id"
)

type clientMessage struct {
	Type  string          `json:"type"`
	Text  *string         `json:"text,omitempty"`
	Audio json.RawMessage `json:"audio,omitempty"`
}

type serverMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text,omitempty"`
	Audio      []byte  `json:"audio,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
}

// decodeSamples accepts samples either as an array or as an object keyed by
// sample index, which is how browsers serialise a Float32Array.
func decodeSamples(raw json.RawMessage) ([]float32, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var samples []float32
	if err := json.Unmarshal(raw, &samples); err == nil {
		return samples, nil
	}

	var indexed map[string]float32
	if err := json.Unmarshal(raw, &indexed); err != nil {
		return nil, fmt.Errorf("audio must be an array or an index map: %w", err)
	}

	type sample struct {
		idx   int
		value float32
	}
	ordered := make([]sample, 0, len(indexed))
	for key, value := range indexed {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid sample index %q", key)
		}
		ordered = append(ordered, sample{idx: idx, value: value})
	}
	slices.SortFunc(ordered, func(a, b sample) int { return a.idx - b.idx })

	samples = make([]float32, len(ordered))
	for i, s := range ordered {
		samples[i] = s.value
	}
	return samples, nil
}
