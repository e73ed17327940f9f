package clock

import (
	"math"
	"testing"
)

func TestCurrentPhaseAtOrigin(t *testing.T) {
	c := NewMasterClock(44100, 120)
	c.PublishFrame(0)
	if got := c.CurrentPhase(); got != 0 {
		t.Errorf("CurrentPhase() = %f, want 0", got)
	}
}

func TestCurrentPhaseAdvancesWithFrames(t *testing.T) {
	c := NewMasterClock(44100, 120)
	framesPerBeat := c.FramesPerBeat()
	// Halfway through beat 0 of 64: phase should be ~ (0.5 / 64).
	c.PublishFrame(int64(framesPerBeat / 2))
	want := 0.5 / 64.0
	if math.Abs(c.CurrentPhase()-want) > 1e-9 {
		t.Errorf("CurrentPhase() = %f, want %f", c.CurrentPhase(), want)
	}
}

func TestPhaseWrapsAtLoopBoundary(t *testing.T) {
	c := NewMasterClock(44100, 120)
	c.PublishFrame(int64(math.Round(c.FramesPerLoop())))
	if got := c.CurrentPhase(); got != 0 {
		t.Errorf("CurrentPhase() at exact loop boundary = %f, want 0", got)
	}
}

func TestSetTempoPreservesPhase(t *testing.T) {
	c := NewMasterClock(44100, 84)
	c.PublishFrame(int64(c.FramesPerLoop() * 0.25)) // quarter through the loop

	phiBefore := c.CurrentPhase()
	c.SetTempo(102)
	phiAfter := c.CurrentPhase()

	tolerance := 1.0 / c.FramesPerLoop()
	if math.Abs(phiBefore-phiAfter) >= tolerance {
		t.Errorf("phase jumped across tempo change: before=%f after=%f tolerance=%f", phiBefore, phiAfter, tolerance)
	}
}

func TestSetTempoUpdatesFramesPerBeat(t *testing.T) {
	c := NewMasterClock(44100, 60)
	if got := c.FramesPerBeat(); got != 44100 {
		t.Fatalf("FramesPerBeat() at 60bpm/44100hz = %f, want 44100", got)
	}
	c.SetTempo(120)
	if got := c.FramesPerBeat(); got != 22050 {
		t.Errorf("FramesPerBeat() after SetTempo(120) = %f, want 22050", got)
	}
}

func TestNextBeatBoundaryIsStrictlyAhead(t *testing.T) {
	c := NewMasterClock(44100, 120)
	framesPerBeat := int64(math.Round(c.FramesPerBeat()))
	c.PublishFrame(framesPerBeat) // exactly on beat 1

	next := c.NextBeatBoundary(1.0)
	if next <= c.NowFrame() {
		t.Errorf("NextBeatBoundary() = %d, want strictly greater than now_frame %d", next, c.NowFrame())
	}
	if next != c.NowFrame()+framesPerBeat {
		t.Errorf("NextBeatBoundary() = %d, want %d", next, c.NowFrame()+framesPerBeat)
	}
}

func TestFrameForBeatRoundTrip(t *testing.T) {
	c := NewMasterClock(44100, 94)
	frame := c.FrameForBeat(10.5)
	backBeat := float64(frame-c.FrameOrigin()) / c.FramesPerBeat()
	// FrameForBeat rounds to the nearest frame, so the round trip is exact
	// to within half a frame's worth of beats.
	if math.Abs(backBeat-10.5) > 0.5/c.FramesPerBeat() {
		t.Errorf("round trip beat = %f, want 10.5", backBeat)
	}
}

func TestRateRoundTripAfterTempoChanges(t *testing.T) {
	c := NewMasterClock(44100, 84)
	c.SetTempo(102)
	c.SetTempo(84)
	rate := c.TempoBPM() / 84.0
	if rate != 1.0 {
		t.Errorf("tempo round trip = %f, want 1.0", rate)
	}
}
