// Command grayscott runs the Gray-Scott reaction-diffusion simulation,
// headless to a PNG or in a window.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/grayscott"
	"github.com/gogpu/grayscott/present"
)

type config struct {
	size         int
	steps        int
	dt           float64
	frames       int
	fps          int
	preset       string
	presetSet    bool
	feed, kill   float64
	seed         float64
	out          string
	snapshot     string
	snapshotSize int
	backend      string
	window       bool
	scale        int
	metricsAddr  string
	verbose      bool
}

func main() {
	var cfg config
	flag.IntVar(&cfg.size, "size", grayscott.DefaultGridSize, "grid width and height")
	flag.IntVar(&cfg.steps, "steps", grayscott.DefaultStepsPerFrame, "simulation steps per display tick")
	flag.Float64Var(&cfg.dt, "dt", grayscott.DefaultTimestep, "integration timestep")
	flag.IntVar(&cfg.frames, "frames", 600, "display ticks to run headless")
	flag.IntVar(&cfg.fps, "fps", 60, "headless display rate")
	flag.StringVar(&cfg.preset, "preset", presets[defaultPreset].Alias, "parameter preset (alpha..mu or custom)")
	flag.Float64Var(&cfg.feed, "F", 0, "feed rate; selects the custom preset")
	flag.Float64Var(&cfg.kill, "K", 0, "kill rate; selects the custom preset")
	flag.Float64Var(&cfg.seed, "seed", -1, "initial seed; negative derives one from the clock")
	flag.StringVar(&cfg.out, "out", "grayscott.png", "rendered output PNG (headless)")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "palette-colored field PNG (headless)")
	flag.IntVar(&cfg.snapshotSize, "snapshot-size", 512, "snapshot width and height")
	flag.StringVar(&cfg.backend, "backend", "auto", "device: auto, gpu or software")
	flag.BoolVar(&cfg.window, "window", false, "open a window instead of running headless")
	flag.IntVar(&cfg.scale, "scale", 2, "window scale factor")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flag.BoolVar(&cfg.verbose, "v", false, "debug logging")
	flag.Parse()
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "preset" {
			cfg.presetSet = true
		}
	})

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	grayscott.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(cfg); err != nil {
		log.Fatalf("grayscott: %v", err)
	}
}

func parseBackend(s string) (grayscott.Backend, error) {
	switch s {
	case "auto":
		return grayscott.BackendAuto, nil
	case "gpu":
		return grayscott.BackendGPU, nil
	case "software":
		return grayscott.BackendSoftware, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", s)
	}
}

// timeSeed is the fractional part of the wall clock in seconds.
func timeSeed() float32 {
	return float32(math.Mod(float64(time.Now().UnixNano())/1e9, 1))
}

func run(cfg config) error {
	backend, err := parseBackend(cfg.backend)
	if err != nil {
		return err
	}
	idx, params, err := selectParams(cfg.preset, cfg.presetSet, cfg.feed, cfg.kill)
	if err != nil {
		return err
	}
	seed := float32(cfg.seed)
	if cfg.seed < 0 {
		seed = timeSeed()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := grayscott.NewSession(
		grayscott.WithBackend(backend),
		grayscott.WithGridSize(cfg.size, cfg.size),
		grayscott.WithStepsPerFrame(cfg.steps),
		grayscott.WithTimestep(float32(cfg.dt)),
		grayscott.WithParams(params),
		grayscott.WithSeed(seed),
		grayscott.WithRegisterer(reg),
	)
	if err != nil {
		return err
	}
	defer s.Close()
	grayscott.Logger().Info("grayscott: running", "preset", presets[idx].String(), "seed", seed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.metricsAddr != "" {
		srv := newMetricsServer(cfg.metricsAddr, reg)
		g.Go(func() error { return serveMetrics(ctx, srv) })
	}

	if cfg.window {
		// ebiten must own the main goroutine.
		err := runWindow(s, idx, cfg.size, cfg.size, cfg.scale)
		stop()
		if werr := g.Wait(); err == nil {
			err = werr
		}
		return err
	}

	g.Go(func() error {
		defer stop()
		return runHeadless(ctx, s, cfg.frames, cfg.fps)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return writeOutputs(s, cfg)
}

func writeOutputs(s *grayscott.Session, cfg config) error {
	if cfg.out != "" {
		img, err := s.Capture()
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		if err := savePNG(cfg.out, img); err != nil {
			return err
		}
		grayscott.Logger().Info("grayscott: wrote frame", "path", cfg.out)
	}
	if cfg.snapshot != "" {
		grid, err := s.Field()
		if err != nil {
			return fmt.Errorf("read field: %w", err)
		}
		img := present.Snapshot(grid, present.DefaultPalette(), cfg.snapshotSize, cfg.snapshotSize)
		if err := savePNG(cfg.snapshot, img); err != nil {
			return err
		}
		grayscott.Logger().Info("grayscott: wrote snapshot", "path", cfg.snapshot)
	}
	return s.Close()
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// runHeadless plays the display loop without a window: every tick kicks the
// simulation and draws, at a fixed rate.
func runHeadless(ctx context.Context, s *grayscott.Session, frames, fps int) error {
	ticker := time.NewTicker(time.Second / time.Duration(max(1, fps)))
	defer ticker.Stop()
	for range frames {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		s.Tick()
		if err := s.Draw(); err != nil {
			return err
		}
		if err := s.Err(); err != nil {
			return err
		}
	}
	st := s.Stats()
	grayscott.Logger().Info("grayscott: headless run finished",
		"ticks", st.Ticks, "issued", st.Issued, "dropped", st.Dropped, "completed", st.Completed)
	return nil
}
