package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/itohio/hydromon/pkg/acquire"
	"github.com/itohio/hydromon/pkg/config"
	"github.com/itohio/hydromon/pkg/metrics"
	"github.com/itohio/hydromon/pkg/publish"
	"github.com/itohio/hydromon/pkg/window"
)

type flags struct {
	configPath   string
	synthetic    bool
	hardware     bool
	distancePort string
	probePort    string
	logLevel     string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("hydromon", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "hydromon.yaml", "Path to config file")
	fs.BoolVar(&f.synthetic, "synthetic", false, "Generate test data instead of reading the sensors")
	fs.BoolVar(&f.hardware, "hardware", false, "Read the sensors even if the config asks for test data")
	fs.StringVar(&f.distancePort, "distance-port", "", "Override the rangefinder serial port")
	fs.StringVar(&f.probePort, "probe-port", "", "Override the probe serial port")
	fs.StringVar(&f.logLevel, "log-level", "", "Override the log level")
	err := fs.Parse(args)
	return f, err
}

func (f flags) apply(cfg *config.Config) {
	switch {
	case f.synthetic:
		cfg.UseSynthetic = true
	case f.hardware:
		cfg.UseSynthetic = false
	}
	if f.distancePort != "" {
		cfg.Distance.Port = f.distancePort
	}
	if f.probePort != "" {
		cfg.Probe.Port = f.probePort
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return log, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	f.apply(cfg)

	log, err := newLogger(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log settings")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("hydromon exited")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sched := acquire.New(cfg.Channels(), window.New(cfg.Window.Capacity),
		acquire.WithLogger(log),
		acquire.WithObserver(m),
		acquire.WithRecorder(m),
	)

	if cfg.Redis.Enabled {
		pub, err := publish.Dial(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		sched.OnSample(pub.OnSample(ctx))
	}

	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, reg, log); err != nil {
				log.WithError(err).Error("metrics listener stopped")
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"synthetic": cfg.UseSynthetic,
		"window":    cfg.Window.Capacity,
		"interval":  cfg.TickInterval,
	}).Info("hydromon starting")

	return sched.Run(ctx, cfg.TickInterval)
}
