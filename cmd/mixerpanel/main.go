// Command mixerpanel is a small Fyne desktop control surface for a running
// mixer engine: sliders and buttons wired directly to the control.Surface
// commands, with a periodic refresh of the global-phase label and a tempo
// label updated whenever the tempo slider moves.
package main

import (
	"flag"
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/dmvjs/ClubSound-sub000/internal/config"
	"github.com/dmvjs/ClubSound-sub000/internal/engine"
)

func main() {
	configPath := flag.String("config", "", "Path to engine TOML config")
	catalogPath := flag.String("catalog", "", "Override catalog_path from the config")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Println("error loading config:", err)
			return
		}
		cfg = loaded
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Println("error constructing engine:", err)
		return
	}
	eng.Start()
	defer eng.Shutdown()

	a := app.New()
	w := a.NewWindow("Mixer Control Panel")

	statusLabel := widget.NewLabel("stopped")
	phaseLabel := widget.NewLabel("phase: 0.000")
	tempoLabel := widget.NewLabel(fmt.Sprintf("tempo: %.1f BPM", eng.Control.Tempo()))

	startStop := widget.NewButton("Start", nil)
	startStop.OnTapped = func() {
		if eng.Control.IsPlaying() {
			eng.Control.Stop()
			startStop.SetText("Start")
			statusLabel.SetText("stopped")
		} else {
			eng.Control.Start()
			startStop.SetText("Stop")
			statusLabel.SetText("playing")
		}
	}

	tempoSlider := widget.NewSlider(40, 300)
	tempoSlider.Value = eng.Control.Tempo()
	tempoSlider.OnChanged = func(v float64) {
		if err := eng.Control.SetTempo(v); err != nil {
			return
		}
		tempoLabel.SetText(fmt.Sprintf("tempo: %.1f BPM", v))
	}

	masterGainSlider := widget.NewSlider(0, 1)
	masterGainSlider.Step = 0.01
	masterGainSlider.Value = 1.0
	masterGainSlider.OnChanged = func(v float64) {
		eng.Control.SetMasterGain(v)
	}

	addIDEntry := widget.NewEntry()
	addIDEntry.SetPlaceHolder("catalog id")
	addButton := widget.NewButton("Add Loop", func() {
		var id uint32
		if _, err := fmt.Sscanf(addIDEntry.Text, "%d", &id); err != nil {
			return
		}
		if _, err := eng.Control.Add(id); err != nil {
			statusLabel.SetText(err.Error())
		}
	})
	removeButton := widget.NewButton("Remove Loop", func() {
		var id uint32
		if _, err := fmt.Sscanf(addIDEntry.Text, "%d", &id); err != nil {
			return
		}
		if err := eng.Control.Remove(id); err != nil {
			statusLabel.SetText(err.Error())
		}
	})

	content := container.NewVBox(
		statusLabel,
		startStop,
		widget.NewLabel("Tempo"),
		tempoSlider,
		tempoLabel,
		widget.NewLabel("Master Gain"),
		masterGainSlider,
		addIDEntry,
		container.NewHBox(addButton, removeButton),
		phaseLabel,
	)
	w.SetContent(content)
	w.Resize(fyne.NewSize(360, 420))

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				phase := eng.Control.GlobalPhase()
				phaseLabel.SetText(fmt.Sprintf("phase: %.3f", phase))
			case <-stop:
				return
			}
		}
	}()

	w.SetOnClosed(func() {
		close(stop)
	})
	w.ShowAndRun()
}
