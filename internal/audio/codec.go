package audio

import "fmt"

// Format is a raw sample layout as produced by capture processes.
type Format string

const (
	FormatS16LE Format = "s16le"
	FormatF32LE Format = "f32le"
)

var decoders = map[Format]func([]byte) []float32{
	FormatS16LE: decodePCM16,
	FormatF32LE: decodeFloat32,
}

// Decode converts raw sample bytes to float32 PCM normalized to [-1, 1].
// Trailing bytes that do not fill a whole sample are ignored.
func Decode(data []byte, format Format) ([]float32, error) {
	dec, ok := decoders[format]
	if !ok {
		return nil, fmt.Errorf("unsupported sample format: %s", format)
	}
	return dec(data), nil
}
