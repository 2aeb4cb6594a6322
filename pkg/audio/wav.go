package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWAV wraps a clip's PCM in a minimal RIFF/WAVE container. Transcription
// backends that accept file uploads (the Whisper API among them) require a
// container; raw PCM is rejected.
func EncodeWAV(c Clip) ([]byte, error) {
	if c.Empty() {
		return nil, ErrEmptyClip
	}
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid format %d Hz / %d ch", c.SampleRate, c.Channels)
	}

	const bitsPerSample = 16
	byteRate := c.SampleRate * c.Channels * bitsPerSample / 8
	blockAlign := c.Channels * bitsPerSample / 8
	dataLen := len(c.PCM)

	var buf bytes.Buffer
	buf.Grow(44 + dataLen)
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(c.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(c.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(c.PCM)
	return buf.Bytes(), nil
}
