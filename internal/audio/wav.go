// Package audio converts raw speech PCM to WAV and decodes WAV data for
// playback scheduling.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// SampleRate of the speech PCM returned by the generation API.
	SampleRate    = 24000
	BitDepth      = 16
	Channels      = 1
	wavHeaderSize = 44
)

// Buffer is decoded audio ready to be scheduled on an output.
type Buffer struct {
	Samples    []int
	SampleRate int
	Channels   int
	Duration   time.Duration
}

func (b *Buffer) Seconds() float64 {
	return b.Duration.Seconds()
}

type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode audio: %s: %v", e.Reason, e.Err)
	}
	return "decode audio: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PCMDuration returns the length in seconds of 16-bit mono PCM.
func PCMDuration(pcm []byte, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(len(pcm)/2) / float64(rate)
}

// EncodeWAV wraps 16-bit mono little-endian PCM in a canonical 44-byte
// RIFF header.
func EncodeWAV(pcm []byte, rate int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	byteRate := rate * Channels * BitDepth / 8
	blockAlign := Channels * BitDepth / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(BitDepth))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// StripWAVHeader returns the PCM payload of a canonical WAV file.
func StripWAVHeader(data []byte) []byte {
	if len(data) <= wavHeaderSize || string(data[0:4]) != "RIFF" {
		return data
	}
	return data[wavHeaderSize:]
}

// Decode parses WAV data into a sample buffer.
func Decode(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty input"}
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, &DecodeError{Reason: "not a valid wav file"}
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{Reason: "read samples", Err: err}
	}
	return fromIntBuffer(pcm), nil
}

func fromIntBuffer(pcm *goaudio.IntBuffer) *Buffer {
	b := &Buffer{Samples: pcm.Data}
	if pcm.Format != nil {
		b.SampleRate = pcm.Format.SampleRate
		b.Channels = pcm.Format.NumChannels
	}
	if b.SampleRate > 0 && b.Channels > 0 {
		frames := len(pcm.Data) / b.Channels
		b.Duration = time.Duration(float64(frames) / float64(b.SampleRate) * float64(time.Second))
	}
	return b
}

// Duration returns the playing time of WAV data in seconds.
func Duration(data []byte) (float64, error) {
	b, err := Decode(data)
	if err != nil {
		return 0, err
	}
	return b.Seconds(), nil
}
