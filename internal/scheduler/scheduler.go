// Package scheduler decides the device frame at which a voice's buffer
// position 0 must land so its phase matches the global phase, for every
// moment a voice can enter or the mix can retune: adding a loop while the
// mix is stopped, adding or realigning one while it's already playing, and
// changing tempo. The functions here are pure arithmetic over a
// MasterClock snapshot; callers (the control surface, applying through the
// Mix Graph's command queue) are responsible for wiring the results onto a
// Voice.
package scheduler

import (
	"math"

	"github.com/dmvjs/ClubSound-sub000/internal/clock"
)

// AlignWhilePlaying computes, from the clock's current phase, the device
// frame at which a new (or rescheduled) voice's buffer position 0 must be
// emitted so its phase matches the global phase right now, plus the
// corresponding fractional input-buffer seed position (phase *
// bufferFrames) for callers whose host cannot honor a start_frame in the
// past.
func AlignWhilePlaying(c *clock.MasterClock, bufferFrames int) (startFrame int64, seedFrame float64) {
	phi := c.CurrentPhase()
	nowFrame := c.NowFrame()
	framesPerLoop := c.FramesPerLoop()

	startFrame = nowFrame - int64(math.Round(phi*framesPerLoop))
	seedFrame = phi * float64(bufferFrames)
	return startFrame, seedFrame
}

// AlignWhileStopped returns the frame at which all currently-SCHEDULED
// voices should start once playback begins. If this is the very first
// start, the caller must also relocate frame_origin to the returned frame.
func AlignWhileStopped(c *clock.MasterClock) int64 {
	return c.NextBeatBoundary(64)
}

// ApplyTempoChange updates the clock's tempo and relocates frame_origin so
// current_phase is preserved at the instant of the change. Recomputing
// each active voice's rate and start_frame afterward is the caller's
// responsibility, using AlignWhilePlaying against the now-updated clock
// for every active voice.
func ApplyTempoChange(c *clock.MasterClock, newBPM float64) {
	c.SetTempo(newBPM)
}
