package main

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/hydromon/pkg/config"
)

func TestFlags_Apply(t *testing.T) {
	f, err := parseFlags([]string{
		"-hardware",
		"-distance-port", "/dev/ttyUSB0",
		"-probe-port", "/dev/ttyUSB1",
		"-log-level", "debug",
	})
	require.NoError(t, err)

	cfg := config.Default()
	f.apply(cfg)
	assert.False(t, cfg.UseSynthetic)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Distance.Port)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Probe.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestFlags_Defaults(t *testing.T) {
	f, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "hydromon.yaml", f.configPath)

	cfg := config.Default()
	cfg.UseSynthetic = false
	f.apply(cfg)
	assert.False(t, cfg.UseSynthetic)
	assert.Equal(t, "COM10", cfg.Distance.Port)
}

func TestFlags_Unknown(t *testing.T) {
	_, err := parseFlags([]string{"-nope"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger(config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = newLogger(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestRun_Synthetic(t *testing.T) {
	cfg := config.Default()
	cfg.UseSynthetic = true
	cfg.TickInterval = time.Millisecond

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, run(ctx, cfg, log))
}
