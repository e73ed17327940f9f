// Package drift runs the non-audio worker that compares each playing
// voice's actual rendered position to where it ought to be, and issues
// throttled corrective reschedules. The per-voice correction times are kept
// in a mutex-guarded map; the consecutive-failure count lives on the Voice.
package drift

import (
	"sync"
	"time"

	"github.com/dmvjs/ClubSound-sub000/internal/clock"
	"github.com/dmvjs/ClubSound-sub000/internal/debug"
	"github.com/dmvjs/ClubSound-sub000/internal/mixgraph"
	"github.com/dmvjs/ClubSound-sub000/internal/scheduler"
	"github.com/dmvjs/ClubSound-sub000/internal/voice"
)

// correctionCooldown throttles corrections for the same voice to at most
// one per second, to avoid oscillation between back-to-back reschedules.
const correctionCooldown = time.Second

// Monitor periodically checks every PLAYING voice's drift against the
// configured threshold and, when it is exceeded, enqueues a realignment
// through the Mix Graph's command queue.
type Monitor struct {
	clock           *clock.MasterClock
	graph           *mixgraph.MixGraph
	interval        time.Duration
	thresholdFrames int64
	logger          *debug.Logger

	mu           sync.Mutex
	lastCorrected map[uint32]time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Monitor. Call Start to begin its background cadence.
func New(clk *clock.MasterClock, graph *mixgraph.MixGraph, interval time.Duration, thresholdFrames int64, logger *debug.Logger) *Monitor {
	return &Monitor{
		clock:           clk,
		graph:           graph,
		interval:        interval,
		thresholdFrames: thresholdFrames,
		logger:          logger,
		lastCorrected:   make(map[uint32]time.Time),
		stop:            make(chan struct{}),
	}
}

// Start launches the single timer-driven goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts the worker and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkOnce(time.Now())
		case <-m.stop:
			return
		}
	}
}

// checkOnce inspects every PLAYING voice once.
func (m *Monitor) checkOnce(now time.Time) {
	for i := 0; i < mixgraph.MaxVoices; i++ {
		v := m.graph.Voice(i)
		if v == nil || v.State() != voice.Playing {
			continue
		}
		m.checkVoice(i, v, now)
	}
}

func (m *Monitor) checkVoice(slot int, v *voice.Voice, now time.Time) {
	deviceSampleRate := m.clock.DeviceSampleRate()
	inputRate := v.EffectiveInputRate(deviceSampleRate)
	bufferFrames := float64(v.Buffer.FrameCount)

	nowFrame := m.clock.NowFrame()
	elapsed := float64(nowFrame - v.StartFrame())
	expected := wrap(elapsed*inputRate, bufferFrames)
	actual := v.LocalPosition()

	driftBufferFrames := circularDistance(expected, actual, bufferFrames)
	if inputRate <= 0 {
		return
	}
	driftDeviceFrames := driftBufferFrames / inputRate

	if driftDeviceFrames <= float64(m.thresholdFrames) {
		v.MarkDriftCorrectionSucceeded()
		return
	}
	if v.IsDriftUnrecoverable() {
		return
	}

	m.mu.Lock()
	last, hadPrior := m.lastCorrected[v.ID]
	if hadPrior && now.Sub(last) < correctionCooldown {
		m.mu.Unlock()
		return
	}
	m.lastCorrected[v.ID] = now
	m.mu.Unlock()

	// Reaching here means either this is the first correction attempt, or
	// the cooldown from a previous correction has elapsed and drift is
	// still over threshold — i.e. that previous correction failed.
	if hadPrior {
		if v.MarkDriftCorrectionFailed() {
			v.MarkDriftUnrecoverable()
			if m.logger != nil {
				m.logger.LogDriftf(debug.LogLevelError, "voice %d: drift correction failed 3 times, stopping", v.ID)
			}
			return
		}
	}

	startFrame, seedFrame := scheduler.AlignWhilePlaying(m.clock, v.Buffer.FrameCount)
	m.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandSetVoiceStart, Slot: slot, StartFrame: startFrame})
	m.graph.Enqueue(mixgraph.Command{Kind: mixgraph.CommandSeedVoicePosition, Slot: slot, SeedFrame: seedFrame})

	if m.logger != nil {
		m.logger.LogDriftf(debug.LogLevelInfo, "voice %d: correcting drift of %.1f device frames", v.ID, driftDeviceFrames)
	}
}

func wrap(v, modulus float64) float64 {
	r := v
	for r >= modulus {
		r -= modulus
	}
	for r < 0 {
		r += modulus
	}
	return r
}

// circularDistance returns the shorter of the two distances between a and b
// around a ring of the given modulus.
func circularDistance(a, b, modulus float64) float64 {
	d := wrap(a-b, modulus)
	if d > modulus/2 {
		d = modulus - d
	}
	return d
}
