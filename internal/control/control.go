// Package control exposes the synchronous command/query surface used by a
// host application (or UI) to drive the mixer: adding and removing loops,
// changing tempo and pitch-lock mode, and inspecting playback phase. Every
// command here runs on the calling goroutine and returns an error directly;
// none of it runs on the audio thread, which only ever drains the Mix
// Graph's command queue.
package control

import (
	"errors"
	"fmt"

	"github.com/dmvjs/ClubSound-sub000/internal/catalog"
	"github.com/dmvjs/ClubSound-sub000/internal/clock"
	"github.com/dmvjs/ClubSound-sub000/internal/debug"
	"github.com/dmvjs/ClubSound-sub000/internal/mixgraph"
	"github.com/dmvjs/ClubSound-sub000/internal/pcm"
	"github.com/dmvjs/ClubSound-sub000/internal/scheduler"
	"github.com/dmvjs/ClubSound-sub000/internal/voice"
)

var (
	// ErrAlreadyActive is returned by Add when the requested catalog id is
	// already occupying a slot.
	ErrAlreadyActive = errors.New("control: loop already active")
	// ErrCapacityExceeded is returned by Add when all voice slots are full.
	ErrCapacityExceeded = errors.New("control: all voice slots occupied")
	// ErrNotFound is returned when an operation names a catalog id or voice
	// id not currently known.
	ErrNotFound = errors.New("control: not found")
	// ErrNotActive is returned by operations that require a running voice.
	ErrNotActive = errors.New("control: voice not active")
	// ErrOutOfRange is returned when a tempo argument falls outside its
	// legal range.
	ErrOutOfRange = errors.New("control: value out of range")
)

const (
	minTempoBPM = 40.0
	maxTempoBPM = 300.0
)

// Surface is the engine's control-plane entry point: one instance per
// engine, wired to its catalog, sample loader, clock, and mix graph.
type Surface struct {
	catalog *catalog.Catalog
	loader  *pcm.Loader
	clock   *clock.MasterClock
	graph   *mixgraph.MixGraph
	logger  *debug.Logger

	gainRampFrames int64
	playing        bool
}

// New constructs a Surface. gainRampFrames is the join/fade ramp duration
// (in device frames) applied to every voice this surface creates.
func New(cat *catalog.Catalog, loader *pcm.Loader, clk *clock.MasterClock, graph *mixgraph.MixGraph, gainRampFrames int64, logger *debug.Logger) *Surface {
	return &Surface{
		catalog:        cat,
		loader:         loader,
		clock:          clk,
		graph:          graph,
		gainRampFrames: gainRampFrames,
		logger:         logger,
	}
}

// Add loads and schedules the loop identified by catalogID into the first
// free slot. If the mix is currently stopped, the voice is scheduled to
// start at the next whole-loop boundary and begins once Start is called.
// If the mix is already playing, it is phase-aligned against the current
// global phase and begins immediately.
func (s *Surface) Add(catalogID uint32) (uint32, error) {
	if s.graph.FindSlot(catalogID) >= 0 {
		return 0, ErrAlreadyActive
	}
	slot := s.graph.FreeSlot()
	if slot < 0 {
		return 0, ErrCapacityExceeded
	}

	entry, err := s.catalog.Get(catalogID)
	if err != nil {
		return 0, fmt.Errorf("%w: catalog id %d", ErrNotFound, catalogID)
	}

	buf, err := s.loader.Load(entry)
	if err != nil {
		return 0, fmt.Errorf("control: decode catalog id %d: %w", catalogID, err)
	}

	v := voice.New(catalogID, entry.NativeBPM, buf, s.gainRampFrames)
	v.SetRate(s.clock.TempoBPM() / entry.NativeBPM)

	if s.playing {
		startFrame, seedFrame := scheduler.AlignWhilePlaying(s.clock, buf.FrameCount)
		v.SetStartFrame(startFrame)
		v.SeedPosition(seedFrame)
	} else {
		v.SetStartFrame(scheduler.AlignWhileStopped(s.clock))
	}

	if !s.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandInsertVoice, Slot: slot, Voice: v}) {
		return 0, fmt.Errorf("control: command queue full, could not add catalog id %d", catalogID)
	}

	if s.logger != nil {
		s.logger.LogControlf(debug.LogLevelInfo, "added catalog id %d (%s) to slot %d", catalogID, entry.Title, slot)
	}
	return catalogID, nil
}

// Remove fades out and releases the voice holding catalogID. It does not
// free the slot immediately; the Mix Graph clears it once the fade-out ramp
// completes. A second Remove of the same id, during or after the fade,
// returns ErrNotActive; an id the catalog does not hold returns ErrNotFound.
func (s *Surface) Remove(catalogID uint32) error {
	slot := s.graph.FindSlot(catalogID)
	if slot < 0 {
		if _, err := s.catalog.Get(catalogID); err == nil {
			return ErrNotActive
		}
		return ErrNotFound
	}
	v := s.graph.Voice(slot)
	if v == nil || v.State() == voice.Stopping || v.State() == voice.Removed {
		return ErrNotActive
	}
	v.RequestStop()
	if s.logger != nil {
		s.logger.LogControlf(debug.LogLevelInfo, "removing catalog id %d from slot %d", catalogID, slot)
	}
	return nil
}

// Start relocates frame_origin to the next whole-loop boundary and
// releases every SCHEDULED voice to begin there. Calling Start while
// already playing is a no-op.
func (s *Surface) Start() {
	if s.playing {
		return
	}
	startFrame := scheduler.AlignWhileStopped(s.clock)
	s.clock.SetFrameOrigin(startFrame)
	for _, v := range s.graph.ActiveVoices() {
		v.SetStartFrame(startFrame)
	}
	s.playing = true
	if s.logger != nil {
		s.logger.LogControlf(debug.LogLevelInfo, "playback started at frame %d", startFrame)
	}
}

// Stop fades out every active voice and marks the mix as stopped. Voices
// added afterward are scheduled per P1 against the next Start.
func (s *Surface) Stop() {
	for _, v := range s.graph.ActiveVoices() {
		v.RequestStop()
	}
	s.playing = false
	if s.logger != nil {
		s.logger.LogControl(debug.LogLevelInfo, "playback stopped", nil)
	}
}

// IsPlaying reports whether Start has been called without a matching Stop.
func (s *Surface) IsPlaying() bool {
	return s.playing
}

// SetTempo changes the global tempo while preserving every voice's loop
// phase: it recomputes each active voice's rate stage and re-derives its
// start_frame so its phase still lands on the clock's relocated current
// phase, regardless of rate mode.
func (s *Surface) SetTempo(newBPM float64) error {
	if newBPM < minTempoBPM || newBPM > maxTempoBPM {
		return fmt.Errorf("%w: tempo %f", ErrOutOfRange, newBPM)
	}
	scheduler.ApplyTempoChange(s.clock, newBPM)

	for i := 0; i < mixgraph.MaxVoices; i++ {
		v := s.graph.Voice(i)
		if v == nil {
			continue
		}
		// Every voice, regardless of rate mode, gets its rate stage retuned
		// to the new tempo ratio and its start_frame recomputed so its loop
		// phase still lands on the clock's (now relocated) current phase.
		v.SetRate(newBPM / v.NativeBPM)
		startFrame, seedFrame := scheduler.AlignWhilePlaying(s.clock, v.Buffer.FrameCount)
		s.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandSetVoiceStart, Slot: i, StartFrame: startFrame})
		s.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandSeedVoicePosition, Slot: i, SeedFrame: seedFrame})
	}

	if s.logger != nil {
		s.logger.LogControlf(debug.LogLevelInfo, "tempo changed to %.2f BPM", newBPM)
	}
	return nil
}

// Tempo returns the current global tempo in BPM.
func (s *Surface) Tempo() float64 {
	return s.clock.TempoBPM()
}

// SetPitchLock toggles a voice between VARISPEED and PITCH_LOCKED rate
// modes. The voice is immediately realigned against the current phase so
// the switch never produces an audible jump.
func (s *Surface) SetPitchLock(catalogID uint32, locked bool) error {
	slot := s.graph.FindSlot(catalogID)
	if slot < 0 {
		if _, err := s.catalog.Get(catalogID); err == nil {
			return ErrNotActive
		}
		return ErrNotFound
	}
	v := s.graph.Voice(slot)
	if v == nil {
		return ErrNotActive
	}

	mode := voice.Varispeed
	if locked {
		mode = voice.PitchLocked
	}
	s.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandSetVoiceRateMode, Slot: slot, RateMode: mode})

	startFrame, seedFrame := scheduler.AlignWhilePlaying(s.clock, v.Buffer.FrameCount)
	s.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandSetVoiceStart, Slot: slot, StartFrame: startFrame})
	s.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandSeedVoicePosition, Slot: slot, SeedFrame: seedFrame})
	return nil
}

// SetVoiceGain sets the commanded gain (ramped, never an instant jump) for
// the voice holding catalogID, clamped to [0, 1].
func (s *Surface) SetVoiceGain(catalogID uint32, gain float64) error {
	slot := s.graph.FindSlot(catalogID)
	if slot < 0 {
		if _, err := s.catalog.Get(catalogID); err == nil {
			return ErrNotActive
		}
		return ErrNotFound
	}
	// Voice.SetGainTarget clamps the value to [0, 1] when the command is applied.
	s.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandSetVoiceGain, Slot: slot, Gain: gain})
	return nil
}

// SetMasterGain sets the post-mix master gain, clamped to [0, 1].
func (s *Surface) SetMasterGain(gain float64) error {
	if gain < 0 {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}
	s.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandSetMasterGain, Gain: gain})
	return nil
}

// GlobalPhase returns the current position within the 64-beat loop, in
// [0, 1).
func (s *Surface) GlobalPhase() float64 {
	return s.clock.CurrentPhase()
}

// VoicePhase returns the loop-relative phase of the voice holding
// catalogID.
func (s *Surface) VoicePhase(catalogID uint32) (float64, error) {
	slot := s.graph.FindSlot(catalogID)
	if slot < 0 {
		return 0, ErrNotFound
	}
	v := s.graph.Voice(slot)
	if v == nil {
		return 0, ErrNotActive
	}
	return v.LoopProgress(s.clock.NowFrame(), s.clock.FramesPerLoop()), nil
}

// ActiveVoices returns the catalog ids of every voice currently occupying
// a slot, in slot order.
func (s *Surface) ActiveVoices() []uint32 {
	voices := s.graph.ActiveVoices()
	ids := make([]uint32, len(voices))
	for i, v := range voices {
		ids[i] = v.ID
	}
	return ids
}
