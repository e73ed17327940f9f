package drift

import (
	"math"
	"testing"
	"time"

	"github.com/dmvjs/ClubSound-sub000/internal/clock"
	"github.com/dmvjs/ClubSound-sub000/internal/mixgraph"
	"github.com/dmvjs/ClubSound-sub000/internal/pcm"
	"github.com/dmvjs/ClubSound-sub000/internal/voice"
)

func newTestVoice(id uint32) *voice.Voice {
	buf := &pcm.Buffer{SampleRate: 44100, Channels: 1, FrameCount: 44100, Samples: make([]float32, 44100)}
	v := voice.New(id, 84, buf, 100)
	v.SetStartFrame(0)
	v.AdvanceLifecycle(0)
	return v
}

func TestCheckOnceCorrectsLargeDrift(t *testing.T) {
	c := clock.NewMasterClock(44100, 84)
	c.SetFrameOrigin(0)
	c.PublishFrame(100000)

	g := mixgraph.New(c, 44100, 1, 512, 64, nil)
	v := newTestVoice(1)
	g.Enqueue(mixgraph.Command{Kind: mixgraph.CommandInsertVoice, Slot: 0, Voice: v})
	g.RenderBlock(100000, make([]float32, 512), 512) // drain the insert

	// Force a large local-position mismatch against the expected position.
	v.SeedPosition(0)

	m := New(c, g, time.Hour, 100, nil) // interval doesn't matter; we call checkOnce directly
	m.checkOnce(time.Now())

	// A correction should have been enqueued; draining it reseeds the voice
	// at the clock's current phase (phase × buffer frames) instead of the
	// forced position 0, and the block then advances it by 512 frames.
	g.RenderBlock(100000, make([]float32, 512), 512)
	want := c.CurrentPhase()*float64(v.Buffer.FrameCount) + 512
	if got := v.LocalPosition(); math.Abs(got-want) > 1e-3 {
		t.Errorf("LocalPosition() after correction = %f, want %f", got, want)
	}
}

func TestCheckOnceIgnoresVoicesWithinThreshold(t *testing.T) {
	c := clock.NewMasterClock(44100, 84)
	c.SetFrameOrigin(0)
	c.PublishFrame(0)

	g := mixgraph.New(c, 44100, 1, 512, 64, nil)
	v := newTestVoice(1)
	g.Enqueue(mixgraph.Command{Kind: mixgraph.CommandInsertVoice, Slot: 0, Voice: v})
	g.RenderBlock(0, make([]float32, 512), 512)

	m := New(c, g, time.Hour, 1000, nil)
	before := v.StartFrame()
	m.checkOnce(time.Now())
	g.RenderBlock(0, make([]float32, 512), 512)
	if v.StartFrame() != before {
		t.Error("voice within threshold should not be rescheduled")
	}
}

func TestUnrecoverableAfterRepeatedFailedCorrections(t *testing.T) {
	v := newTestVoice(1)
	v.MarkDriftCorrectionFailed()
	v.MarkDriftCorrectionFailed()
	if v.IsDriftUnrecoverable() {
		t.Fatal("should not be unrecoverable before third failure")
	}
	if third := v.MarkDriftCorrectionFailed(); !third {
		t.Fatal("third failure should report unrecoverable")
	}
	v.MarkDriftUnrecoverable()
	if !v.IsDriftUnrecoverable() {
		t.Error("expected IsDriftUnrecoverable to be true")
	}
	if v.State() != voice.Stopping && v.State() != voice.Removed {
		t.Errorf("unrecoverable voice state = %v, want STOPPING or REMOVED", v.State())
	}
}
