// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Command bitonic steps a bitonic sort one compute dispatch at a time and
// shows the element grid after each step.
//
// Usage:
//
//	bitonic -elements 64 -steps 3 -dump
//	bitonic -elements 256 -complete -interval 20ms -png sorted.png
//
// Settings are read from bitonic.toml when present (or -config); flags
// override file values.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/muesli/termenv"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/bitonic"
	_ "github.com/gogpu/bitonic/gpu" // register the GPU sort device when available
	"github.com/gogpu/bitonic/internal/config"
)

type cliFlags struct {
	config   string
	elements uint
	steps    int
	complete bool
	interval time.Duration
	seed     uint64
	hover    int
	png      string
	size     int
	dump     bool
	gpu      bool
	verbose  bool
}

func main() {
	var f cliFlags
	flag.StringVar(&f.config, "config", "", "settings file (default "+config.DefaultFile+" if present)")
	flag.UintVar(&f.elements, "elements", 16, "number of elements, a power of two in [4, 512]")
	flag.IntVar(&f.steps, "steps", 1, "number of steps to execute")
	flag.BoolVar(&f.complete, "complete", false, "run the sort to completion")
	flag.DurationVar(&f.interval, "interval", 50*time.Millisecond, "delay between steps with -complete")
	flag.Uint64Var(&f.seed, "seed", 0, "shuffle seed, 0 for random")
	flag.IntVar(&f.hover, "hover", -1, "element index to highlight with its swap partner")
	flag.StringVar(&f.png, "png", "", "write the display pass to this PNG file")
	flag.IntVar(&f.size, "size", 512, "PNG size in pixels")
	flag.BoolVar(&f.dump, "dump", false, "print the grid after every step")
	flag.BoolVar(&f.gpu, "gpu", true, "use the GPU device when available")
	flag.BoolVar(&f.verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	bitonic.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatalf("bitonic: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, f); err != nil {
		log.Fatalf("bitonic: %v", err)
	}
}

// loadConfig opens the settings file and applies the flags set on the
// command line.
func loadConfig(f cliFlags) (config.Config, error) {
	cfg, err := config.Open(f.config)
	if err != nil {
		return cfg, err
	}
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "elements":
			cfg.Elements = uint32(f.elements) //nolint:gosec // validated below
		case "interval":
			cfg.Interval = config.Duration(f.interval)
		case "seed":
			cfg.Seed = f.seed
		case "hover":
			cfg.Display.Hover = f.hover
		case "png":
			cfg.Display.Output = f.png
		case "size":
			cfg.Display.Size = f.size
		case "gpu":
			cfg.GPU = f.gpu
		}
	})
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, f cliFlags) error {
	if !cfg.GPU {
		bitonic.UnregisterDevice()
	}
	defer bitonic.UnregisterDevice()

	opts := []bitonic.Option{bitonic.WithMaxWorkgroupSize(cfg.MaxWorkgroupSize)}
	if cfg.Seed != 0 {
		opts = append(opts, bitonic.WithSeed(cfg.Seed))
	}
	seq, err := bitonic.New(cfg.Elements, opts...)
	if err != nil {
		return err
	}
	defer seq.Close()

	p := message.NewPrinter(language.English)
	out := termenv.NewOutput(os.Stdout)
	hover := hoverInfo(seq, cfg.Display.Hover)

	p.Printf("device %s, %d elements, %d steps\n",
		seq.Device().Name(), cfg.Elements, bitonic.TotalSteps(cfg.Elements))
	if f.dump {
		dumpGrid(out, seq, hover)
	}

	var totalSwaps int
	report := func(r bitonic.StepReport) {
		totalSwaps += int(r.Swaps)
		p.Printf("%-14s swaps %4d  %s\n", r.Stage, r.Swaps, r.State)
		if f.dump {
			dumpGrid(out, seq, hoverInfo(seq, cfg.Display.Hover))
		}
	}

	if f.complete {
		pl := bitonic.NewPlayer(seq, report)
		pl.Start(ctx, time.Duration(cfg.Interval))
		if err := pl.Wait(); err != nil {
			return err
		}
	} else {
		for range f.steps {
			r, err := seq.Step(ctx)
			if err != nil {
				return err
			}
			report(r)
			if r.State.Done() {
				break
			}
		}
	}

	state := seq.State()
	p.Printf("%d swaps, %d steps remaining, sorted: %v\n",
		totalSwaps, state.StepsRemaining(), seq.Elements().IsSorted())
	if f.verbose {
		seq.LogElements()
	}

	if cfg.Display.Output != "" {
		if err := writePNG(ctx, seq, cfg, hoverInfo(seq, cfg.Display.Hover)); err != nil {
			return err
		}
		p.Printf("wrote %s\n", cfg.Display.Output)
	}
	return nil
}

func hoverInfo(seq *bitonic.Sequencer, index int) *bitonic.HoverInfo {
	if index < 0 {
		return nil
	}
	info, ok := seq.Hover(uint32(index)) //nolint:gosec // non-negative
	if !ok {
		return nil
	}
	return &info
}

func writePNG(ctx context.Context, seq *bitonic.Sequencer, cfg config.Config, hover *bitonic.HoverInfo) error {
	g := seq.Grid()
	w := cfg.Display.Size
	h := w * int(g.Height) / int(g.Width)
	img, err := seq.Render(ctx, bitonic.DisplayOptions{
		Width:   w,
		Height:  h,
		Hover:   hover,
		Caption: seq.State().String(),
	})
	if err != nil {
		return err
	}
	file, err := os.Create(cfg.Display.Output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	return file.Close()
}
