package pcm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dmvjs/ClubSound-sub000/internal/catalog"
)

// writeTestWAV synthesizes a silent mono WAV of exactly frameCount frames at
// sampleRate, the shape the loader expects to decode.
func writeTestWAV(t *testing.T, path string, sampleRate, frameCount int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, frameCount),
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write fixture samples: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}

func TestLoadDecodesAndCaches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loop.wav")

	const sampleRate = 44100
	entry := catalog.Entry{ID: 1, Title: "Test Loop", NativeBPM: 120, ResourcePath: path}
	frameCount := int(entry.NominalDuration() * float64(sampleRate))
	writeTestWAV(t, path, sampleRate, frameCount)

	loader := NewLoader(nil)
	buf1, err := loader.Load(entry)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if buf1.SampleRate != sampleRate {
		t.Errorf("SampleRate = %d, want %d", buf1.SampleRate, sampleRate)
	}
	if buf1.FrameCount != frameCount {
		t.Errorf("FrameCount = %d, want %d", buf1.FrameCount, frameCount)
	}

	buf2, err := loader.Load(entry)
	if err != nil {
		t.Fatalf("second Load returned error: %v", err)
	}
	if buf1 != buf2 {
		t.Error("second Load should return the cached buffer pointer")
	}
}

func TestLoadRejectsMissingResource(t *testing.T) {
	entry := catalog.Entry{ID: 2, Title: "Missing", NativeBPM: 94, ResourcePath: "/no/such/file.wav"}
	loader := NewLoader(nil)
	if _, err := loader.Load(entry); !errors.Is(err, ErrMissingResource) {
		t.Errorf("Load error = %v, want ErrMissingResource", err)
	}
}

func TestLoadRejectsLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.wav")

	const sampleRate = 44100
	entry := catalog.Entry{ID: 3, Title: "Short Loop", NativeBPM: 84, ResourcePath: path}
	writeTestWAV(t, path, sampleRate, sampleRate) // only 1s, nowhere near 64 beats at 84 bpm

	loader := NewLoader(nil)
	if _, err := loader.Load(entry); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Load error = %v, want ErrLengthMismatch", err)
	}
}
