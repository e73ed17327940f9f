// Package pcm decodes catalog resources into in-memory float buffers and
// caches the result so repeated loads of the same entry are free.
package pcm

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/go-audio/wav"

	"github.com/dmvjs/ClubSound-sub000/internal/catalog"
	"github.com/dmvjs/ClubSound-sub000/internal/debug"
)

var (
	// ErrMissingResource is returned when the backing file cannot be opened.
	ErrMissingResource = errors.New("pcm: missing resource")
	// ErrUnsupportedFormat is returned when the file is not a valid WAV PCM stream.
	ErrUnsupportedFormat = errors.New("pcm: unsupported format")
	// ErrLengthMismatch is returned when the decoded duration does not match
	// the catalog entry's 16-bar-at-native-tempo constraint.
	ErrLengthMismatch = errors.New("pcm: length mismatch")
)

// lengthToleranceSeconds allows for small encoder rounding in the decoded
// frame count without rejecting an otherwise-correct resource.
const lengthToleranceSeconds = 0.1

// Buffer is a decoded loop: interleaved float samples at the rate and
// channel count the encoder produced them at.
type Buffer struct {
	SampleRate int
	Channels   int
	FrameCount int
	Samples    []float32 // interleaved, len == FrameCount*Channels
}

// Loader decodes WAV resources on demand and caches the result by entry id.
// Behavior is deterministic: repeated Load calls for the same id return the
// same buffer without re-decoding.
type Loader struct {
	mu     sync.RWMutex
	cache  map[uint32]*Buffer
	logger *debug.Logger
}

// NewLoader constructs an empty Loader. logger may be nil.
func NewLoader(logger *debug.Logger) *Loader {
	return &Loader{
		cache:  make(map[uint32]*Buffer),
		logger: logger,
	}
}

// Load decodes entry's resource, validating its length against the catalog
// invariant, and caches the result keyed by entry.ID.
func (l *Loader) Load(entry catalog.Entry) (*Buffer, error) {
	l.mu.RLock()
	if buf, ok := l.cache[entry.ID]; ok {
		l.mu.RUnlock()
		return buf, nil
	}
	l.mu.RUnlock()

	buf, err := l.decode(entry)
	if err != nil {
		if l.logger != nil {
			l.logger.LogLoaderf(debug.LogLevelError, "load entry %d (%s): %v", entry.ID, entry.Title, err)
		}
		return nil, err
	}

	l.mu.Lock()
	l.cache[entry.ID] = buf
	l.mu.Unlock()

	return buf, nil
}

func (l *Loader) decode(entry catalog.Entry) (*Buffer, error) {
	f, err := os.Open(entry.ResourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingResource, entry.ResourcePath, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, entry.ResourcePath)
	}

	intBuf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, entry.ResourcePath, err)
	}
	if intBuf.Format == nil || intBuf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: %s: missing format", ErrUnsupportedFormat, entry.ResourcePath)
	}

	channels := intBuf.Format.NumChannels
	sampleRate := intBuf.Format.SampleRate
	frameCount := len(intBuf.Data) / channels

	duration := float64(frameCount) / float64(sampleRate)
	want := entry.NominalDuration()
	if math.Abs(duration-want) > lengthToleranceSeconds {
		return nil, fmt.Errorf("%w: %s: decoded %.3fs, want %.3fs ±%.1fs",
			ErrLengthMismatch, entry.ResourcePath, duration, want, lengthToleranceSeconds)
	}

	floatBuf := intBuf.AsFloatBuffer()
	samples := make([]float32, len(floatBuf.Data))
	for i, v := range floatBuf.Data {
		samples[i] = float32(v)
	}

	return &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		FrameCount: frameCount,
		Samples:    samples,
	}, nil
}
