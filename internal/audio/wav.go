package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultSampleRate    = 24000
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

// Format describes raw PCM samples.
type Format struct {
	SampleRate    int `mapstructure:"sample_rate"`
	Channels      int `mapstructure:"channels"`
	BitsPerSample int `mapstructure:"bits_per_sample"`
}

// DefaultFormat is the PCM layout the platform streams back.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels, BitsPerSample: DefaultBitsPerSample}
}

func (f Format) normalized() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = DefaultChannels
	}
	if f.BitsPerSample <= 0 {
		f.BitsPerSample = DefaultBitsPerSample
	}
	return f
}

// ByteRate is the number of PCM bytes per second of audio.
func (f Format) ByteRate() int {
	f = f.normalized()
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// WAVSink writes PCM buffers as RIFF/WAVE files.
type WAVSink struct {
	format Format
}

// NewWAVSink constructs a sink for the given format. Zero fields fall back to defaults.
func NewWAVSink(format Format) *WAVSink {
	return &WAVSink{format: format.normalized()}
}

// Write replaces path with a WAV container around pcm.
func (s *WAVSink) Write(pcm []byte, path string) error {
	if path == "" {
		return fmt.Errorf("audio path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, Encode(pcm, s.format), 0o644)
}

// Encode wraps pcm in a 44 byte canonical WAV header.
func Encode(pcm []byte, format Format) []byte {
	format = format.normalized()
	blockAlign := format.Channels * format.BitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.ByteRate()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.BitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// PCM returns the samples of a WAV container, or data unchanged when it is
// not one.
func PCM(data []byte) []byte {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data
	}
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if id == "data" {
			end := body + size
			if end > len(data) || size < 0 {
				end = len(data)
			}
			return data[body:end]
		}
		off = body + size + size%2
	}
	return data
}
