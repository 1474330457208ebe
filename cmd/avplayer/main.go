// Command avplayer is a minimal Ebitengine host for the avsync engine: it
// opens one media file, drives Player's lifecycle from keyboard input, and
// draws the current surface into the game window.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/spf13/pflag"

	"github.com/avsync/avsync"
	"github.com/avsync/avsync/internal/config"
	"github.com/avsync/avsync/internal/logger"
)

func main() {
	var (
		speed      = pflag.Float64("speed", 1.0, "initial playback speed multiplier")
		repeat     = pflag.Bool("repeat", false, "restart from 0 on end of file")
		logLevel   = pflag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
		cfgPath    = pflag.String("config", "", "path to a YAML config file overriding the built-in defaults")
		ignoreAudi = pflag.Bool("no-audio", false, "ignore any audio stream in the source")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] path/to/video\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(1)
	}
	path, err := filepath.Abs(pflag.Arg(0))
	if err != nil {
		panic(err)
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		os.Exit(1)
	}

	cfg, err := (config.Loader{}).Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(cfg.LogLevel)

	if !*ignoreAudi {
		if err := avsync.InitAudioContext(path); err != nil {
			panic(err)
		}
	}

	var game *app
	emit := avsync.EmitterFunc(func(e avsync.Event) {
		if e.Kind == avsync.EventError {
			logger.Logger().Error("engine error", "code", e.ErrorCode, "err", e.Err)
		}
	})

	player, err := avsync.NewPlayer(path, cfg, *ignoreAudi, emit)
	if err != nil {
		panic(err)
	}
	player.SetSpeed(*speed)
	if *repeat {
		player.SetRepeat(avsync.RepeatAll)
	}
	player.Play()

	game = &app{player: player, videoPath: path}

	ebiten.SetWindowTitle("avsync/avplayer")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(1280, 720)

	if err := ebiten.RunGame(game); err != nil {
		panic(err)
	}
}

type app struct {
	player    *avsync.Player
	videoPath string
	paused    bool
}

func (a *app) Layout(w, h int) (int, int) { return w, h }

func (a *app) Draw(canvas *ebiten.Image) {
	avsync.Draw(canvas, a.player.Surface().Image())
	diag := a.player.Diagnostics()
	ebitenutil.DebugPrintAt(canvas, fmt.Sprintf(
		"master=%s audio=%.2f video=%.2f drift=%.3f speed=%.2f  (SPACE pause, RIGHT/LEFT seek, ESC quit)",
		diag.Master, diag.AudioClock, diag.VideoClock, diag.DriftSeconds, a.player.Speed(),
	), 8, 8)
}

func (a *app) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		a.player.Release()
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		a.paused = !a.paused
		if a.paused {
			a.player.Pause()
		} else {
			a.player.Play()
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyRight) {
		pos := a.player.Diagnostics().VideoClock
		a.player.Seek(int64((pos+10)*1000), false, pos)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyLeft) {
		pos := a.player.Diagnostics().VideoClock
		target := pos - 10
		if target < 0 {
			target = 0
		}
		a.player.Seek(int64(target*1000), false, pos)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyUp) {
		a.player.SetSpeed(a.player.Speed() + 0.25)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyDown) {
		a.player.SetSpeed(a.player.Speed() - 0.25)
	}
	time.Sleep(time.Millisecond) // yield to render/watchdog goroutines on single-core CI runners
	return nil
}
