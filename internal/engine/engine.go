// Package engine owns one complete mixer instance: its configuration, its
// catalog and sample cache, its master clock, its mix graph, its drift
// monitor, and the control surface a host application drives. This is the
// single wiring point analogous to how the rest of this codebase's
// component tree is assembled.
package engine

import (
	"fmt"

	"github.com/dmvjs/ClubSound-sub000/internal/catalog"
	"github.com/dmvjs/ClubSound-sub000/internal/clock"
	"github.com/dmvjs/ClubSound-sub000/internal/config"
	"github.com/dmvjs/ClubSound-sub000/internal/control"
	"github.com/dmvjs/ClubSound-sub000/internal/debug"
	"github.com/dmvjs/ClubSound-sub000/internal/drift"
	"github.com/dmvjs/ClubSound-sub000/internal/mixgraph"
	"github.com/dmvjs/ClubSound-sub000/internal/pcm"
)

// defaultInitialBPM seeds the clock before any loop has been added; the
// first Add call overwrites each voice's own rate relative to it, and
// SetTempo can retune the whole mix at any time afterward.
const defaultInitialBPM = 120.0

// Engine wires every subsystem into one running mixer instance.
type Engine struct {
	Config  config.Config
	Logger  *debug.Logger
	Catalog *catalog.Catalog
	Loader  *pcm.Loader
	Clock   *clock.MasterClock
	Graph   *mixgraph.MixGraph
	Drift   *drift.Monitor
	Control *control.Surface
}

// New constructs a fully wired Engine from cfg. The catalog manifest named
// by cfg.CatalogPath is loaded eagerly; sample decoding is lazy, performed
// by the Loader the first time each loop is added.
func New(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	logger := debug.NewLogger(cfg.LogBufferEntries)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("engine: load catalog: %w", err)
	}

	loader := pcm.NewLoader(logger)
	masterClock := clock.NewMasterClock(cfg.DeviceSampleRate, defaultInitialBPM)
	graph := mixgraph.New(masterClock, cfg.DeviceSampleRate, cfg.DeviceChannels, cfg.BlockSize, cfg.CommandQueueSize, logger)

	monitor := drift.New(masterClock, graph, cfg.DriftCheckInterval(), cfg.DriftThresholdFrames(), logger)

	surface := control.New(cat, loader, masterClock, graph, cfg.GainRampFrames(), logger)

	return &Engine{
		Config:  cfg,
		Logger:  logger,
		Catalog: cat,
		Loader:  loader,
		Clock:   masterClock,
		Graph:   graph,
		Drift:   monitor,
		Control: surface,
	}, nil
}

// Start launches the background drift monitor. The audio host is
// responsible for calling RenderBlock once per callback and, separately,
// for calling Control.Start once playback should begin.
func (e *Engine) Start() {
	e.Drift.Start()
}

// Shutdown halts the drift monitor and the logger's background worker.
// It does not stop playback; call Control.Stop first if a clean fade-out
// is wanted.
func (e *Engine) Shutdown() {
	e.Drift.Stop()
	e.Logger.Shutdown()
}

// RenderBlock renders one audio callback's worth of frames starting at
// startFrame into out (interleaved, frameCount*DeviceChannels float32).
// The audio host calls this directly; it is the only engine method meant
// to run on the audio thread.
func (e *Engine) RenderBlock(startFrame int64, out []float32, frameCount int) {
	e.Graph.RenderBlock(startFrame, out, frameCount)
}
