// Package voice implements one active loop player: its state machine, its
// rate/pitch signal chain, and its sample-accurate gain ramp.
package voice

import (
	"math"
	"sync/atomic"

	"github.com/dmvjs/ClubSound-sub000/internal/pcm"
)

// State is a voice's position in its lifecycle.
type State int32

const (
	Scheduled State = iota
	Playing
	Stopping
	Removed
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "SCHEDULED"
	case Playing:
		return "PLAYING"
	case Stopping:
		return "STOPPING"
	case Removed:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// RateMode selects how a voice's rate stage handles a tempo ratio other
// than 1.0.
type RateMode int32

const (
	Varispeed RateMode = iota
	PitchLocked
)

const (
	varispeedOverlap   = 3
	pitchLockedOverlap = 8
)

// Voice is one active loop. Fields mutated from both the control context and
// the audio callback are atomics; fields touched only by the audio callback
// (the rate/pitch stage scratch state) need no synchronization at all.
type Voice struct {
	ID        uint32
	NativeBPM float64
	Buffer    *pcm.Buffer

	rateBits    atomic.Uint64 // float64 bits: tempo_bpm / native_bpm
	gainTarget  atomic.Uint64 // float64 bits: commanded gain in [0,1]
	startFrame  atomic.Int64
	state       atomic.Int32
	rateMode    atomic.Int32
	driftFailed atomic.Int32 // consecutive failed drift corrections

	// renderedFrame publishes the device frame the callback most recently
	// rendered for this voice, for the drift monitor to read off-thread.
	renderedFrame atomic.Int64

	unrecoverable atomic.Bool

	// currentGain and gainStepLen are audio-callback-only state: the ramp
	// position and the number of samples left in the active ramp toward
	// gainTarget.
	currentGain float32
	gainStepLen int64 // frames remaining in the active ramp

	rate  *RateStage
	pitch *PitchStage

	gainRampFrames int64
}

// New constructs a voice for the given catalog/buffer pair, starting in
// SCHEDULED state with gain at 0 (the join ramp brings it up once PLAYING).
func New(id uint32, nativeBPM float64, buf *pcm.Buffer, gainRampFrames int64) *Voice {
	v := &Voice{
		ID:             id,
		NativeBPM:      nativeBPM,
		Buffer:         buf,
		rate:           NewRateStage(buf.Channels),
		pitch:          NewPitchStage(pitchLockedOverlap, buf.Channels),
		gainRampFrames: gainRampFrames,
	}
	v.rateBits.Store(math.Float64bits(1.0))
	v.gainTarget.Store(math.Float64bits(1.0))
	v.state.Store(int32(Scheduled))
	v.rateMode.Store(int32(Varispeed))
	return v
}

func (v *Voice) State() State       { return State(v.state.Load()) }
func (v *Voice) RateMode() RateMode { return RateMode(v.rateMode.Load()) }
func (v *Voice) StartFrame() int64  { return v.startFrame.Load() }
func (v *Voice) Rate() float64      { return math.Float64frombits(v.rateBits.Load()) }
func (v *Voice) GainTarget() float64 {
	return math.Float64frombits(v.gainTarget.Load())
}
func (v *Voice) RenderedFrame() int64 { return v.renderedFrame.Load() }

// SetStartFrame is called by the scheduler (control context) to (re)align
// this voice; it takes effect at the start of the next audio block.
func (v *Voice) SetStartFrame(frame int64) {
	v.startFrame.Store(frame)
}

// SetRate updates the tempo ratio applied by the rate stage.
func (v *Voice) SetRate(rate float64) {
	v.rateBits.Store(math.Float64bits(rate))
}

// SetRateMode toggles VARISPEED/PITCH_LOCKED. The scheduler is responsible
// for recomputing start_frame to preserve phase whenever this changes.
func (v *Voice) SetRateMode(mode RateMode) {
	v.rateMode.Store(int32(mode))
}

// SetGainTarget sets the commanded gain; the audio callback ramps toward it
// sample-by-sample rather than jumping.
func (v *Voice) SetGainTarget(gain float64) {
	if gain < 0 {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}
	v.gainTarget.Store(math.Float64bits(gain))
}

// RequestStop moves a SCHEDULED or PLAYING voice into STOPPING; the gain
// ramp will carry it down to 0 (a voice that never started is already at
// 0), at which point the Mix Graph transitions it to REMOVED.
func (v *Voice) RequestStop() {
	v.gainTarget.Store(math.Float64bits(0))
	if st := v.State(); st == Playing || st == Scheduled {
		v.state.Store(int32(Stopping))
	}
}

// SeedPosition aligns both signal-chain stages to an exact input frame, for
// a mid-loop join or a tempo-change realignment. Called from the control
// context before the voice is inserted into the graph, or on the audio
// thread when the Mix Graph applies a CommandSeedVoicePosition.
func (v *Voice) SeedPosition(frame float64) {
	v.rate.SeedFrame(frame)
	v.pitch.SeedFrame(frame)
}

// AdvanceLifecycle transitions SCHEDULED->PLAYING once now_frame reaches
// start_frame. Called once per block from the Mix Graph, on the audio
// thread.
func (v *Voice) AdvanceLifecycle(nowFrame int64) {
	if v.State() == Scheduled && nowFrame >= v.StartFrame() {
		v.state.Store(int32(Playing))
	}
}

// Render fills dst (interleaved, frameCount*channels float32) with this
// voice's contribution for the block starting at nowFrame, applying the
// rate/pitch stage and the sample-accurate gain ramp. It never allocates.
// Returns true if the voice completed its fade-out and should be dropped.
func (v *Voice) Render(nowFrame int64, dst []float32, frameCount int, deviceSampleRate int64) bool {
	channels := v.Buffer.Channels
	rate := v.Rate()
	effectiveRate := rate * float64(v.Buffer.SampleRate) / float64(deviceSampleRate)

	switch v.RateMode() {
	case PitchLocked:
		// Rate stage runs at unit ratio; the pitch stage performs the
		// actual time-stretch at `rate`.
		scratch := dst // pitch stage writes directly; rate stage bypassed
		v.pitch.Render(v.Buffer.Samples, v.Buffer.FrameCount, rate, scratch, frameCount)
	default: // Varispeed
		v.rate.Render(v.Buffer.Samples, v.Buffer.FrameCount, effectiveRate, dst, frameCount)
	}

	v.applyGainRamp(dst, frameCount, channels)
	v.renderedFrame.Store(nowFrame + int64(frameCount))

	if v.State() == Stopping && v.currentGain <= 0 {
		v.state.Store(int32(Removed))
		return true
	}
	return false
}

// applyGainRamp advances the per-sample gain ramp toward gainTarget and
// scales dst in place. A ramp starts over gainRampFrames samples whenever
// the gain differs from the target and no ramp is running; a target change
// in mid-ramp is reached within that ramp's remaining samples, so joins and
// fades are always bounded by the same configured duration.
func (v *Voice) applyGainRamp(dst []float32, frameCount, channels int) {
	target := float32(v.GainTarget())

	for i := 0; i < frameCount; i++ {
		diff := target - v.currentGain
		if diff == 0 {
			v.gainStepLen = 0
		} else {
			if v.gainStepLen <= 0 {
				v.gainStepLen = v.gainRampFrames
				if v.gainStepLen <= 0 {
					v.gainStepLen = 1
				}
			}
			step := diff / float32(v.gainStepLen)
			v.currentGain += step
			v.gainStepLen--
			if (step > 0 && v.currentGain > target) || (step < 0 && v.currentGain < target) {
				v.currentGain = target
			}
		}

		for c := 0; c < channels; c++ {
			dst[i*channels+c] *= v.currentGain
		}
	}
}

// LoopProgress returns the voice's fractional position within its own loop,
// ((now_frame - start_frame) mod frames_per_loop) / frames_per_loop.
func (v *Voice) LoopProgress(nowFrame int64, framesPerLoop float64) float64 {
	delta := float64(nowFrame - v.StartFrame())
	mod := math.Mod(delta, framesPerLoop)
	if mod < 0 {
		mod += framesPerLoop
	}
	return mod / framesPerLoop
}

// MarkDriftCorrectionFailed increments the consecutive-failure counter and
// reports whether it has now reached the unrecoverable threshold (3).
func (v *Voice) MarkDriftCorrectionFailed() bool {
	n := v.driftFailed.Add(1)
	return n >= 3
}

// MarkDriftCorrectionSucceeded resets the consecutive-failure counter.
func (v *Voice) MarkDriftCorrectionSucceeded() {
	v.driftFailed.Store(0)
}

// MarkDriftUnrecoverable flags the voice and requests it stop; surfaced via
// IsDriftUnrecoverable for queries. This removes only the one voice — it
// never brings down the rest of the mix.
func (v *Voice) MarkDriftUnrecoverable() {
	v.unrecoverable.Store(true)
	v.RequestStop()
}

// IsDriftUnrecoverable reports whether three consecutive drift corrections
// have failed to bring this voice within threshold.
func (v *Voice) IsDriftUnrecoverable() bool {
	return v.unrecoverable.Load()
}

// EffectiveInputRate returns the ratio at which this voice consumes its
// native buffer per device frame: native_sample_rate*rate/device_sample_rate
// in VARISPEED, or the bare tempo ratio in PITCH_LOCKED (where the pitch
// stage performs sample-rate conversion at unit ratio).
func (v *Voice) EffectiveInputRate(deviceSampleRate int64) float64 {
	rate := v.Rate()
	if v.RateMode() == PitchLocked {
		return rate
	}
	return float64(v.Buffer.SampleRate) * rate / float64(deviceSampleRate)
}

// LocalPosition returns this voice's current read position within its
// buffer, wrapped to [0, buffer_frames), as tracked by whichever stage is
// active.
func (v *Voice) LocalPosition() float64 {
	var pos float64
	if v.RateMode() == PitchLocked {
		pos = v.pitch.readPos
	} else {
		pos = v.rate.CurrentFrame()
	}
	bufferFrames := float64(v.Buffer.FrameCount)
	wrapped := math.Mod(pos, bufferFrames)
	if wrapped < 0 {
		wrapped += bufferFrames
	}
	return wrapped
}
