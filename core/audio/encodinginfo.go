package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: EncodingLinear16}
}

// EncodingInfo describes mono raw audio as it travels between the renderers,
// transcribers and the client.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

// Duration returns the play time of byteCount bytes of raw audio in this
// encoding. Unknown encodings report zero.
func (e EncodingInfo) Duration(byteCount int) time.Duration {
	bytesPerSecond := e.SampleRate * e.Format.ByteSize()
	if bytesPerSecond <= 0 || byteCount <= 0 {
		return 0
	}

	return time.Duration(float64(byteCount) / float64(bytesPerSecond) * float64(time.Second))
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)

func ParseEncodingFormat(name string) (encodingFormat, error) {
	switch format := encodingFormat(name); format {
	case EncodingMulaw, EncodingALaw, EncodingLinear16:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", name)
	}
}

// Float32ToLinear16 converts normalised [-1, 1] samples, as produced by
// browser capture, into little-endian 16-bit PCM. Out of range samples are
// clipped.
func Float32ToLinear16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, sample := range samples {
		clipped := math.Max(-1, math.Min(1, float64(sample)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(clipped*math.MaxInt16)))
	}
	return pcm
}
