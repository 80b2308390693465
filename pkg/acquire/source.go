package acquire

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/itohio/hydromon/pkg/config"
	"github.com/itohio/hydromon/pkg/probe"
	"github.com/itohio/hydromon/pkg/ranger"
	"github.com/itohio/hydromon/pkg/sample"
	"github.com/itohio/hydromon/pkg/sensor"
)

var (
	_ Source = (*Hardware)(nil)
	_ Source = (*Synthetic)(nil)
)

// Source produces one unstamped reading per call to Acquire.
type Source interface {
	Name() string
	Connect() error
	Close() error
	Acquire(ctx context.Context) (sample.Reading, error)
}

// DistanceReader reads the distance channel.
type DistanceReader interface {
	Connect() error
	Close() error
	Read(ctx context.Context) (float64, error)
}

// ParameterReader reads the multi-parameter channel.
type ParameterReader interface {
	Connect() error
	Close() error
	Read(ctx context.Context) (probe.Reading, error)
}

// NewSource builds the source selected by cfg.UseSynthetic.
func NewSource(cfg config.ChannelConfig, log logrus.FieldLogger, obs sensor.Observer) Source {
	if cfg.UseSynthetic {
		return NewSynthetic(cfg)
	}
	return NewHardware(
		ranger.New(DistanceConfig(cfg.Distance), log, obs),
		probe.New(ProbeConfig(cfg.Probe), log, obs),
	)
}

// DistanceConfig converts the configured distance channel into reader settings.
func DistanceConfig(c config.DistanceConfig) ranger.Config {
	return ranger.Config{
		Port:        c.Port,
		BaudRate:    c.BaudRate,
		DataBits:    c.DataBits,
		Parity:      c.Parity,
		StopBits:    c.StopBits,
		ReadTimeout: c.ReadTimeout,
		Scale:       c.Scale,
		Ceiling:     c.Ceiling,
		Offset:      c.Offset,
		Polarity:    c.Polarity,
		MaxLines:    c.MaxLines,
		FlushInput:  c.FlushInput,
	}
}

// ProbeConfig converts the configured probe channel into reader settings.
// Ranges are enforced by config.ChannelConfig.Validate.
func ProbeConfig(c config.ProbeConfig) probe.Config {
	return probe.Config{
		Port:         c.Port,
		BaudRate:     c.BaudRate,
		DataBits:     c.DataBits,
		Parity:       c.Parity,
		StopBits:     c.StopBits,
		SlaveAddress: byte(c.SlaveAddress),
		BaseRegister: uint16(c.BaseRegister),
		FunctionCode: c.FunctionCode,
		Timeout:      c.Timeout,
	}
}

// Hardware reads the rangefinder first and the probe second.
// Either failure fails the whole acquisition.
type Hardware struct {
	distance DistanceReader
	params   ParameterReader
}

// NewHardware composes the two channel readers.
func NewHardware(distance DistanceReader, params ParameterReader) *Hardware {
	return &Hardware{distance: distance, params: params}
}

func (h *Hardware) Name() string { return "hardware" }

// Connect opens both channels. If the probe fails the rangefinder is closed again.
func (h *Hardware) Connect() error {
	if err := h.distance.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", ranger.Channel, err)
	}
	if err := h.params.Connect(); err != nil {
		h.distance.Close()
		return fmt.Errorf("connect %s: %w", probe.Channel, err)
	}
	return nil
}

func (h *Hardware) Close() error {
	return errors.Join(h.distance.Close(), h.params.Close())
}

func (h *Hardware) Acquire(ctx context.Context) (sample.Reading, error) {
	d, err := h.distance.Read(ctx)
	if err != nil {
		return sample.Reading{}, fmt.Errorf("read %s: %w", ranger.Channel, err)
	}
	p, err := h.params.Read(ctx)
	if err != nil {
		return sample.Reading{}, fmt.Errorf("read %s: %w", probe.Channel, err)
	}
	return sample.Reading{
		Distance:     d,
		Temperature:  p.Temperature,
		Conductivity: p.Conductivity,
		UVStatus:     p.UVStatus,
	}, nil
}

// Synthetic serves generated readings with no hardware attached.
type Synthetic struct {
	gen *sample.Synthetic
}

// NewSynthetic creates a synthetic source using the configured ranges and
// the distance channel offset.
func NewSynthetic(cfg config.ChannelConfig) *Synthetic {
	return &Synthetic{
		gen: sample.NewSynthetic(cfg.Synthetic, cfg.Distance.Offset, cfg.Distance.Polarity, nil),
	}
}

func (s *Synthetic) Name() string   { return "synthetic" }
func (s *Synthetic) Connect() error { return nil }
func (s *Synthetic) Close() error   { return nil }

func (s *Synthetic) Acquire(ctx context.Context) (sample.Reading, error) {
	if err := ctx.Err(); err != nil {
		return sample.Reading{}, err
	}
	return s.gen.Generate(), nil
}
