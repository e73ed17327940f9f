package scheduler

import (
	"math"
	"testing"

	"github.com/dmvjs/ClubSound-sub000/internal/clock"
)

func TestAlignWhilePlayingMatchesCurrentPhase(t *testing.T) {
	c := clock.NewMasterClock(44100, 84)
	c.SetFrameOrigin(0)
	c.PublishFrame(int64(c.FramesPerLoop() * 0.3))

	bufferFrames := 44100 * 10
	startFrame, seedFrame := AlignWhilePlaying(c, bufferFrames)

	// Reconstructing phase from the returned start_frame should match the
	// clock's phase at now_frame within one rounding unit.
	reconstructedBeat := float64(c.NowFrame()-startFrame) / c.FramesPerBeat()
	reconstructedPhase := math.Mod(reconstructedBeat/64, 1.0)
	if math.Abs(reconstructedPhase-c.CurrentPhase()) > 1e-6 {
		t.Errorf("reconstructed phase = %f, want %f", reconstructedPhase, c.CurrentPhase())
	}

	wantSeed := c.CurrentPhase() * float64(bufferFrames)
	if math.Abs(seedFrame-wantSeed) > 1e-6 {
		t.Errorf("seedFrame = %f, want %f", seedFrame, wantSeed)
	}
}

func TestAlignWhileStoppedReturnsWholeLoopBoundary(t *testing.T) {
	c := clock.NewMasterClock(44100, 84)
	c.SetFrameOrigin(0)
	c.PublishFrame(100)

	frame := AlignWhileStopped(c)
	if frame <= c.NowFrame() {
		t.Errorf("AlignWhileStopped() = %d, want strictly greater than now_frame %d", frame, c.NowFrame())
	}

	beat := float64(frame-c.FrameOrigin()) / c.FramesPerBeat()
	if math.Mod(beat, 64) > 1e-6 {
		t.Errorf("AlignWhileStopped() landed on beat %f, want a multiple of 64", beat)
	}
}

func TestApplyTempoChangePreservesPhase(t *testing.T) {
	c := clock.NewMasterClock(44100, 84)
	c.SetFrameOrigin(0)
	c.PublishFrame(int64(c.FramesPerLoop() * 0.6))

	before := c.CurrentPhase()
	ApplyTempoChange(c, 102)
	after := c.CurrentPhase()

	tolerance := 1.0 / c.FramesPerLoop()
	if math.Abs(before-after) >= tolerance {
		t.Errorf("phase changed from %f to %f, want difference under %f", before, after, tolerance)
	}
}
