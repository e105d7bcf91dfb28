package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"trisonica-logger/internal/config"
	"trisonica-logger/internal/logging"
	"trisonica-logger/internal/notify"
	"trisonica-logger/internal/run"
	"trisonica-logger/internal/stats"
	"trisonica-logger/internal/storage"
	"trisonica-logger/internal/trisonica"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to config file")
	port := flag.String("port", "", "Serial port (overrides config and auto-detect)")
	baud := flag.Int("baud", 0, "Baud rate (overrides config)")
	logDir := flag.String("log-dir", "", "Write CSV files to this directory (overrides target selection)")
	noStats := flag.Bool("no-stats", false, "Disable the statistics file")
	noWait := flag.Bool("no-wait", false, "Exit immediately if no device is found")
	demo := flag.Bool("demo", false, "Run with simulated anemometer data")
	initConfig := flag.Bool("init-config", false, "Write the default config file and exit")
	flag.Parse()

	if *initConfig {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("config written to %s\n", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *baud > 0 {
		cfg.Serial.Baud = *baud
	}
	if *noStats {
		cfg.Stats.Enabled = false
	}

	logger := logging.Setup(cfg.Log)
	log := logger.WithField("run", uuid.New().String()[:8])
	log.Info("trisonica-logger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %v, shutting down", sig)
		cancel()
	}()

	var provider trisonica.Provider
	if *demo {
		provider = trisonica.NewDemoProvider()
	} else {
		provider = trisonica.NewSerialProvider(trisonica.SerialConfig{
			Port:        cfg.Serial.Port,
			Baud:        cfg.Serial.Baud,
			ProbeLines:  cfg.Serial.ProbeLines,
			ProbeWindow: time.Duration(cfg.Serial.ProbeWindowS) * time.Second,
		}, log)
	}

	target, err := storage.Select(storage.Config{
		ExternalDir:  cfg.Storage.ExternalDir,
		LocalDir:     cfg.Storage.LocalDir,
		Override:     *logDir,
		StatsEnabled: cfg.Stats.Enabled,
		MinFreeMB:    cfg.Storage.MinFreeMB,
	}, time.Now(), log)
	if err != nil {
		log.WithError(err).Error("no writable storage target")
		os.Exit(1)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.LEDPath != "" {
		notifier = notify.NewSysfsLED(cfg.Notify.LEDPath, log)
	}

	params := trisonica.DefaultParams()
	parser, err := trisonica.NewParser(params, cfg.Serial.Separator)
	if err != nil {
		log.WithError(err).Error("bad parser configuration")
		os.Exit(1)
	}

	loop := run.New(run.Options{
		Provider:  provider,
		Parser:    parser,
		Validator: trisonica.NewValidator(params),
		Target:    target,
		Tracker:   stats.NewTracker(),
		Notifier:  notifier,
		Log:       log,

		ReadTimeout:    time.Duration(cfg.Serial.ReadTimeoutS) * time.Second,
		StatsInterval:  time.Duration(cfg.Stats.IntervalS) * time.Second,
		StatusInterval: time.Duration(cfg.Status.IntervalS) * time.Second,
		NoWait:         *noWait,
	})

	if err := loop.Run(ctx); err != nil {
		log.WithError(err).Error("logger exited")
		os.Exit(1)
	}
}
