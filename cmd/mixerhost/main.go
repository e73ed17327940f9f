// Command mixerhost is a headless SDL2 audio host: it owns the real output
// device, pulls rendered blocks from an engine.Engine, and queues them for
// playback, the same device-queue/backpressure pattern this codebase has
// always used for audio output.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/dmvjs/ClubSound-sub000/internal/config"
	"github.com/dmvjs/ClubSound-sub000/internal/debug"
	"github.com/dmvjs/ClubSound-sub000/internal/engine"
)

func main() {
	configPath := flag.String("config", "", "Path to engine TOML config (defaults built in if omitted)")
	catalogPath := flag.String("catalog", "", "Override catalog_path from the config")
	addIDs := flag.String("add", "", "Comma-separated catalog ids to add and start playing immediately")
	enableLogging := flag.Bool("log", false, "Enable verbose component logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error constructing engine: %v\n", err)
		os.Exit(1)
	}

	if *enableLogging {
		eng.Logger.SetComponentEnabled(debug.ComponentCatalog, true)
		eng.Logger.SetComponentEnabled(debug.ComponentLoader, true)
		eng.Logger.SetComponentEnabled(debug.ComponentClock, true)
		eng.Logger.SetComponentEnabled(debug.ComponentVoice, true)
		eng.Logger.SetComponentEnabled(debug.ComponentMixGraph, true)
		eng.Logger.SetComponentEnabled(debug.ComponentScheduler, true)
		eng.Logger.SetComponentEnabled(debug.ComponentDrift, true)
		eng.Logger.SetComponentEnabled(debug.ComponentControl, true)
	}

	if err := sdl.Init(sdl.INIT_AUDIO); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing SDL audio: %v\n", err)
		os.Exit(1)
	}
	defer sdl.Quit()

	audioSpec := sdl.AudioSpec{
		Freq:     int32(cfg.DeviceSampleRate),
		Format:   sdl.AUDIO_F32,
		Channels: uint8(cfg.DeviceChannels),
		Samples:  uint16(cfg.BlockSize),
	}
	audioDev, err := sdl.OpenAudioDevice("", false, &audioSpec, nil, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening audio device: %v\n", err)
		os.Exit(1)
	}
	defer sdl.CloseAudioDevice(audioDev)
	sdl.PauseAudioDevice(audioDev, false)

	eng.Start()
	defer eng.Shutdown()

	for _, id := range parseIDs(*addIDs) {
		if _, err := eng.Control.Add(id); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not add catalog id %d: %v\n", id, err)
		}
	}
	eng.Control.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	out := make([]float32, cfg.BlockSize*cfg.DeviceChannels)
	maxQueuedBytes := uint32(cfg.BlockSize * cfg.DeviceChannels * 4 * 4) // ~4 blocks of headroom
	frame := int64(0)

	fmt.Printf("mixerhost running: %d Hz, %d ch, block %d\n", cfg.DeviceSampleRate, cfg.DeviceChannels, cfg.BlockSize)

	for {
		select {
		case <-sigs:
			eng.Control.Stop()
			return
		default:
		}

		if sdl.GetQueuedAudioSize(audioDev) >= maxQueuedBytes {
			sdl.Delay(1)
			continue
		}

		eng.RenderBlock(frame, out, cfg.BlockSize)
		frame += int64(cfg.BlockSize)

		if err := sdl.QueueAudio(audioDev, floatsToBytes(out)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: queue audio: %v\n", err)
		}

		time.Sleep(time.Microsecond) // yield without busy-spinning the host CPU
	}
}

// floatsToBytes reinterprets native-endian float32 samples as the raw byte
// stream SDL's AUDIO_F32 device expects.
func floatsToBytes(samples []float32) []byte {
	bytes := make([]byte, len(samples)*4)
	for i, s := range samples {
		b := (*[4]byte)(unsafe.Pointer(&s))
		copy(bytes[i*4:], b[:])
	}
	return bytes
}

func parseIDs(csv string) []uint32 {
	if csv == "" {
		return nil
	}
	var ids []uint32
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			var v uint32
			fmt.Sscanf(csv[start:i], "%d", &v)
			ids = append(ids, v)
			start = i + 1
		}
	}
	return ids
}
