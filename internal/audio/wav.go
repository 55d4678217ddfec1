package audio

import (
	"encoding/binary"
)

// StreamingSize marks RIFF/data sizes as unknown in a header written before
// the recording length is known. Decoders read until EOF.
const StreamingSize = 0xFFFFFFFF

// WAVHeader returns a 44-byte header for 16-bit mono PCM. A dataLen of
// StreamingSize produces a header suitable for incremental writing.
func WAVHeader(sampleRate int, dataLen uint32) []byte {
	riffLen := uint32(StreamingSize)
	if dataLen != StreamingSize {
		riffLen = 36 + dataLen
	}

	buf := make([]byte, 44)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], riffLen)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataLen)
	return buf
}
