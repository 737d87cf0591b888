package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	out := Encode(pcm, Format{})
	if len(out) != 48 {
		t.Fatalf("expected 48 bytes, got %d", len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", out[:40])
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != 40 {
		t.Fatalf("riff size %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != DefaultSampleRate {
		t.Fatalf("sample rate %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 48000 {
		t.Fatalf("byte rate %d", got)
	}
	if got := binary.LittleEndian.Uint16(out[34:36]); got != 16 {
		t.Fatalf("bits per sample %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 4 {
		t.Fatalf("data size %d", got)
	}
	if string(out[44:]) != string(pcm) {
		t.Fatalf("pcm not preserved")
	}
}

func TestWAVSinkWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.wav")
	sink := NewWAVSink(Format{SampleRate: 16000, Channels: 2})
	if err := sink.Write([]byte{0, 1}, path); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 2 {
		t.Fatalf("channels %d", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Fatalf("sample rate %d", got)
	}
}

func TestWAVSinkRequiresPath(t *testing.T) {
	if err := NewWAVSink(DefaultFormat()).Write([]byte{1}, ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPCMStripsHeader(t *testing.T) {
	pcm := []byte{9, 8, 7, 6, 5, 4}
	if got := PCM(Encode(pcm, Format{})); string(got) != string(pcm) {
		t.Fatalf("expected samples back, got %v", got)
	}
	raw := []byte{1, 2, 3}
	if got := PCM(raw); string(got) != string(raw) {
		t.Fatalf("raw input should pass through, got %v", got)
	}
}
