package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmvjs/ClubSound-sub000/internal/config"
)

// writeFixtureCatalog builds a one-entry manifest plus a matching silent
// WAV resource, sized for exactly 64 beats at 84 BPM / 44100 Hz.
func writeFixtureCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	const nativeBPM = 84.0
	const sampleRate = 44100
	frameCount := int(64.0 * 60.0 / nativeBPM * sampleRate)

	wavPath := filepath.Join(dir, "loop.wav")
	f, err := os.Create(wavPath)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, frameCount),
	}); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()

	manifestPath := filepath.Join(dir, "catalog.toml")
	manifest := "[[loop]]\nid = 1\ntitle = \"Fixture\"\nkey = 0\nnative_bpm = 84.0\nresource = \"loop.wav\"\n"
	if err := os.WriteFile(manifestPath, []byte(manifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return manifestPath
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.DeviceChannels = 1
	cfg.CatalogPath = writeFixtureCatalog(t)

	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestNewEngineWiresEveryComponent(t *testing.T) {
	e := newTestEngine(t)
	assert.NotNil(t, e.Catalog)
	assert.NotNil(t, e.Loader)
	assert.NotNil(t, e.Clock)
	assert.NotNil(t, e.Graph)
	assert.NotNil(t, e.Drift)
	assert.NotNil(t, e.Control)
}

func TestEngineAddAndRenderKeepsVoiceActive(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Control.Add(1)
	require.NoError(t, err)

	// Drain the insert command, then start playback; the voice is scheduled
	// for the next whole-loop boundary.
	out := make([]float32, e.Config.BlockSize)
	e.RenderBlock(0, out, e.Config.BlockSize)
	e.Control.Start()

	// Render a handful of blocks after Start; since the fixture is silent,
	// we only assert the pipeline runs to completion without panicking and
	// ActiveVoices reflects the inserted loop.
	frame := int64(0)
	for i := 0; i < 8; i++ {
		e.RenderBlock(frame, out, e.Config.BlockSize)
		frame += int64(e.Config.BlockSize)
	}

	assert.Equal(t, []uint32{1}, e.Control.ActiveVoices())
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DeviceSampleRate = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestShutdownStopsBackgroundWorkers(t *testing.T) {
	e := newTestEngine(t)
	e.Start()
	e.Shutdown()
}
