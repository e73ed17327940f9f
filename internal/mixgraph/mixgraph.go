// Package mixgraph assembles active voices into the output graph: it owns
// master gain, the fixed four-voice slot array, the command intake queue
// the audio callback drains, and the saturation policy applied to the
// summed signal.
package mixgraph

import (
	"math"
	"sync/atomic"

	"github.com/dmvjs/ClubSound-sub000/internal/clock"
	"github.com/dmvjs/ClubSound-sub000/internal/debug"
	"github.com/dmvjs/ClubSound-sub000/internal/voice"
)

// MaxVoices is the hard cap on simultaneously active loops.
const MaxVoices = 4

// CommandKind tags the variants a Command can carry.
type CommandKind int

const (
	CommandInsertVoice CommandKind = iota
	CommandRemoveSlot
	CommandSetMasterGain
	CommandSetVoiceGain
	CommandSetVoiceRate
	CommandSetVoiceRateMode
	CommandSetVoiceStart
	CommandSeedVoicePosition
)

// Command is one unit of work flowing from the control context to the
// audio callback. The callback drains a bounded channel of these at the
// top of every block; application is pure, allocation-free arithmetic and
// slot-array writes.
type Command struct {
	Kind        CommandKind
	Slot        int
	Voice       *voice.Voice
	Gain        float64
	Rate        float64
	RateMode    voice.RateMode
	StartFrame  int64
	SeedFrame   float64
}

// MixGraph is the owned graph instance; there is exactly one per engine.
type MixGraph struct {
	clock            *clock.MasterClock
	slots            [MaxVoices]atomic.Pointer[voice.Voice]
	masterGainBits   atomic.Uint64
	deviceSampleRate int64
	channels         int
	logger           *debug.Logger

	commands chan Command

	// scratch is reused every block to render one voice's contribution
	// before it is accumulated into the caller's output buffer; sized once
	// at construction for the configured block size so RenderBlock never
	// allocates.
	scratch []float32
}

// New constructs a MixGraph bound to clk, producing audio at
// deviceSampleRate/channels, with a command queue of the given capacity and
// a preallocated per-voice scratch buffer sized for blockSize frames.
func New(clk *clock.MasterClock, deviceSampleRate, channels, blockSize, queueCapacity int, logger *debug.Logger) *MixGraph {
	g := &MixGraph{
		clock:            clk,
		deviceSampleRate: int64(deviceSampleRate),
		channels:         channels,
		logger:           logger,
		commands:         make(chan Command, queueCapacity),
		scratch:          make([]float32, blockSize*channels),
	}
	g.masterGainBits.Store(math.Float64bits(1.0))
	return g
}

// Enqueue submits a command for application at the start of the next
// block. It never blocks; on a full queue it reports false and the
// command is dropped, logged as a warning rather than stalling the caller.
func (g *MixGraph) Enqueue(cmd Command) bool {
	select {
	case g.commands <- cmd:
		return true
	default:
		if g.logger != nil {
			g.logger.LogMixGraphf(debug.LogLevelWarning, "command queue full, dropping kind=%d", cmd.Kind)
		}
		return false
	}
}

// MasterGain returns the current master gain.
func (g *MixGraph) MasterGain() float64 {
	return math.Float64frombits(g.masterGainBits.Load())
}

// Voice returns the voice occupying slot i, or nil.
func (g *MixGraph) Voice(i int) *voice.Voice {
	if i < 0 || i >= MaxVoices {
		return nil
	}
	return g.slots[i].Load()
}

// FindSlot returns the slot index holding a voice with the given id, or -1.
func (g *MixGraph) FindSlot(id uint32) int {
	for i := 0; i < MaxVoices; i++ {
		if v := g.slots[i].Load(); v != nil && v.ID == id {
			return i
		}
	}
	return -1
}

// FreeSlot returns the index of the first empty slot, or -1 if full.
func (g *MixGraph) FreeSlot() int {
	for i := 0; i < MaxVoices; i++ {
		if g.slots[i].Load() == nil {
			return i
		}
	}
	return -1
}

// ActiveVoices returns every non-nil voice currently occupying a slot.
func (g *MixGraph) ActiveVoices() []*voice.Voice {
	out := make([]*voice.Voice, 0, MaxVoices)
	for i := 0; i < MaxVoices; i++ {
		if v := g.slots[i].Load(); v != nil {
			out = append(out, v)
		}
	}
	return out
}

// drainCommands applies every queued command without blocking. Called once
// at the top of RenderBlock.
func (g *MixGraph) drainCommands() {
	for {
		select {
		case cmd := <-g.commands:
			g.apply(cmd)
		default:
			return
		}
	}
}

func (g *MixGraph) apply(cmd Command) {
	switch cmd.Kind {
	case CommandInsertVoice:
		g.slots[cmd.Slot].Store(cmd.Voice)
	case CommandRemoveSlot:
		g.slots[cmd.Slot].Store(nil)
	case CommandSetMasterGain:
		g.masterGainBits.Store(math.Float64bits(cmd.Gain))
	case CommandSetVoiceGain:
		if v := g.slots[cmd.Slot].Load(); v != nil {
			v.SetGainTarget(cmd.Gain)
		}
	case CommandSetVoiceRate:
		if v := g.slots[cmd.Slot].Load(); v != nil {
			v.SetRate(cmd.Rate)
		}
	case CommandSetVoiceRateMode:
		if v := g.slots[cmd.Slot].Load(); v != nil {
			v.SetRateMode(cmd.RateMode)
		}
	case CommandSetVoiceStart:
		if v := g.slots[cmd.Slot].Load(); v != nil {
			v.SetStartFrame(cmd.StartFrame)
		}
	case CommandSeedVoicePosition:
		if v := g.slots[cmd.Slot].Load(); v != nil {
			v.SeedPosition(cmd.SeedFrame)
		}
	}
}

// RenderBlock is the audio callback body: drain commands, publish the
// block's starting frame to the clock, mix every PLAYING/STOPPING voice,
// apply master gain and the saturation policy. It must never allocate or
// block.
func (g *MixGraph) RenderBlock(startFrame int64, out []float32, frameCount int) {
	g.drainCommands()
	g.clock.PublishFrame(startFrame)

	for i := range out {
		out[i] = 0
	}

	for i := 0; i < MaxVoices; i++ {
		v := g.slots[i].Load()
		if v == nil {
			continue
		}
		v.AdvanceLifecycle(startFrame)
		st := v.State()
		if st != voice.Playing && st != voice.Stopping {
			continue
		}

		scratch := g.scratch[:frameCount*g.channels]
		removed := v.Render(startFrame, scratch, frameCount, g.deviceSampleRate)
		for s := range scratch {
			out[s] += scratch[s]
		}
		if removed {
			g.slots[i].Store(nil)
		}
	}

	masterGain := float32(g.MasterGain())
	for i := range out {
		out[i] = saturate(out[i] * masterGain)
	}
}

// saturate applies a soft knee above 0.8 full-scale followed by a hard
// clip at unity, so a handful of loaded voices summing above full scale
// rounds off smoothly instead of hard-clipping.
func saturate(v float32) float32 {
	sign := float32(1)
	if v < 0 {
		sign = -1
		v = -v
	}
	if v > 0.8 {
		v = 0.8 + 0.2*(1-1/(1+(v-0.8)*5))
	}
	if v > 1 {
		v = 1
	}
	return sign * v
}
