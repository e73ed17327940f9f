// Package clock owns the global musical timeline: the mapping between
// device audio frames and musical beats/phase. The clock never consults
// wall-clock time for musical arithmetic; it is driven entirely by the
// audio device's own monotonic frame counter.
package clock

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	beatsPerBar  = 4
	barsPerLoop  = 16
	beatsPerLoop = beatsPerBar * barsPerLoop // 64
)

// MasterClock holds the musical timeline. All mutable fields are stored as
// atomics so the audio callback can read and publish them without blocking.
type MasterClock struct {
	deviceSampleRate int64

	// tempoBPMBits holds tempo_bpm as a float64 bit pattern (atomic.Int64
	// has no float64 counterpart old enough to rely on uniformly, so the
	// bit-cast is explicit, matching the fixed-point discipline used
	// elsewhere in this codebase for lock-free numeric state).
	tempoBPMBits atomic.Uint64
	frameOrigin  atomic.Int64
	nowFrame     atomic.Int64

	// seeded is false until the first audio callback publishes a frame;
	// until then NowFrame falls back to a wall-clock-derived estimate.
	seeded    atomic.Bool
	startedAt time.Time
}

// NewMasterClock constructs a clock at the given device sample rate and
// initial tempo. frame_origin starts at 0; the first Start command (via
// the scheduler) relocates it to the next whole-loop boundary.
func NewMasterClock(deviceSampleRate int, initialBPM float64) *MasterClock {
	c := &MasterClock{
		deviceSampleRate: int64(deviceSampleRate),
		startedAt:        time.Now(),
	}
	c.tempoBPMBits.Store(math.Float64bits(initialBPM))
	return c
}

// PublishFrame is called once per audio callback with the device's starting
// frame for that block. It is the only writer of the clock's observable
// "now".
func (c *MasterClock) PublishFrame(frame int64) {
	c.nowFrame.Store(frame)
	c.seeded.Store(true)
}

// NowFrame returns the most recently published device frame. Before the
// first audio callback has run, it falls back to a wall-clock estimate
// seeded at construction — never used for scheduling decisions once real
// callbacks are flowing.
func (c *MasterClock) NowFrame() int64 {
	if c.seeded.Load() {
		return c.nowFrame.Load()
	}
	elapsed := time.Since(c.startedAt)
	return int64(elapsed.Seconds() * float64(c.deviceSampleRate))
}

// TempoBPM returns the current tempo.
func (c *MasterClock) TempoBPM() float64 {
	return math.Float64frombits(c.tempoBPMBits.Load())
}

// FrameOrigin returns the device frame marking musical frame 0.
func (c *MasterClock) FrameOrigin() int64 {
	return c.frameOrigin.Load()
}

// SetFrameOrigin relocates frame_origin directly. Used by the control
// surface's Start for protocol P1; the P3 tempo-change relocation is done
// inside SetTempo. Never called from the audio callback itself.
func (c *MasterClock) SetFrameOrigin(frame int64) {
	c.frameOrigin.Store(frame)
}

// DeviceSampleRate returns the fixed device sample rate.
func (c *MasterClock) DeviceSampleRate() int64 {
	return c.deviceSampleRate
}

// FramesPerBeat derives the current beat length in frames.
func (c *MasterClock) FramesPerBeat() float64 {
	return float64(c.deviceSampleRate) * 60.0 / c.TempoBPM()
}

// FramesPerLoop derives the current loop length in frames (64 beats).
func (c *MasterClock) FramesPerLoop() float64 {
	return c.FramesPerBeat() * beatsPerLoop
}

// CurrentBeat returns the fractional beat position of now_frame relative to
// frame_origin.
func (c *MasterClock) CurrentBeat() float64 {
	return float64(c.NowFrame()-c.FrameOrigin()) / c.FramesPerBeat()
}

// CurrentPhase returns the fractional position within the 64-beat loop, in
// [0, 1). A beat position that lands exactly on a loop boundary reports
// phase 0, never 1.
func (c *MasterClock) CurrentPhase() float64 {
	beat := c.CurrentBeat()
	return fractionalPhase(beat / beatsPerLoop)
}

// PhaseAtFrame computes phase as of an arbitrary device frame, using the
// clock's current tempo and origin — used by callers that sampled now_frame
// earlier and want a consistent phase for that instant.
func (c *MasterClock) PhaseAtFrame(frame int64) float64 {
	beat := float64(frame-c.FrameOrigin()) / c.FramesPerBeat()
	return fractionalPhase(beat / beatsPerLoop)
}

func fractionalPhase(loopPosition float64) float64 {
	phase := math.Mod(loopPosition, 1.0)
	if phase < 0 {
		phase += 1.0
	}
	return phase
}

// FrameForBeat converts a fractional beat position to a device frame,
// rounding to the nearest integer frame.
func (c *MasterClock) FrameForBeat(beat float64) int64 {
	return c.FrameOrigin() + int64(math.Round(beat*c.FramesPerBeat()))
}

// NextBeatBoundary returns the smallest device frame strictly after
// now_frame whose beat position is an integer multiple of division. A
// division of 64 means "the next whole-loop boundary".
func (c *MasterClock) NextBeatBoundary(division float64) int64 {
	beat := c.CurrentBeat()
	next := math.Floor(beat/division)*division + division
	// Guard against now_frame landing exactly on a boundary: always advance
	// to a frame strictly greater than now, never the current instant.
	for c.FrameForBeat(next) <= c.NowFrame() {
		next += division
	}
	return c.FrameForBeat(next)
}

// SetTempo updates tempo_bpm and relocates frame_origin so current_phase()
// at the sampled instant is unchanged. It does not touch any voice; the
// scheduler is responsible for recomputing each voice's rate and
// start_frame immediately afterward.
func (c *MasterClock) SetTempo(newBPM float64) {
	phiOld := c.CurrentPhase()
	fNow := c.NowFrame()

	c.tempoBPMBits.Store(math.Float64bits(newBPM))

	framesPerLoopNew := c.FramesPerLoop()
	newOrigin := fNow - int64(math.Round(phiOld*framesPerLoopNew))
	c.frameOrigin.Store(newOrigin)
}
