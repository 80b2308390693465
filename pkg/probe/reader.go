package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"github.com/sirupsen/logrus"

	"github.com/itohio/hydromon/pkg/sensor"
)

// Channel names the multi-parameter channel in errors and logs.
const Channel = "probe"

const (
	// DefaultBaudRate is the NKE MoSens baud rate.
	DefaultBaudRate = 9600
	// DefaultSlaveAddress is the factory slave address of the probe.
	DefaultSlaveAddress = 128
	// DefaultBaseRegister is the first register of the measurement block.
	DefaultBaseRegister = 256
	// DefaultFunctionCode reads input registers.
	DefaultFunctionCode = 4
	// DefaultTimeout bounds one bus transaction.
	DefaultTimeout = time.Second

	// RegisterCount is the size of the measurement block.
	RegisterCount = 6

	functionReadHolding = 3
	functionReadInput   = 4
)

// Parameter names used in logs and metrics.
const (
	ParamUVStatus     = "uv_status"
	ParamConductivity = "conductivity"
	ParamTemperature  = "temperature"
)

// Reading holds the decoded probe parameters.
type Reading struct {
	UVStatus     float64
	Conductivity float64
	Temperature  float64
}

// registerMap maps each parameter to the offset of its high word in the block.
var registerMap = []struct {
	name   string
	offset int
	set    func(*Reading, float64)
}{
	{ParamUVStatus, 0, func(r *Reading, v float64) { r.UVStatus = v }},
	{ParamConductivity, 2, func(r *Reading, v float64) { r.Conductivity = v }},
	{ParamTemperature, 4, func(r *Reading, v float64) { r.Temperature = v }},
}

// Config holds the multi-parameter channel settings.
type Config struct {
	Port         string
	BaudRate     int
	DataBits     int
	Parity       string // "N", "E" or "O"
	StopBits     int
	SlaveAddress byte
	BaseRegister uint16
	FunctionCode int // 3 (holding) or 4 (input)
	Timeout      time.Duration
}

// Client is the subset of modbus.Client the reader uses.
type Client interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// Transport owns the bus connection behind a Client.
type Transport interface {
	Connect() error
	Close() error
}

// Reader reads the probe over Modbus RTU.
// It must only be used from one goroutine at a time.
type Reader struct {
	cfg Config
	log logrus.FieldLogger
	obs sensor.Observer

	dial func(cfg Config) (Transport, Client)

	mu        sync.Mutex
	transport Transport
	client    Client
}

// New creates a multi-parameter channel reader. The bus is opened lazily.
func New(cfg Config, logger logrus.FieldLogger, obs sensor.Observer) *Reader {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.Parity == "" {
		cfg.Parity = "E"
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.SlaveAddress == 0 {
		cfg.SlaveAddress = DefaultSlaveAddress
	}
	if cfg.FunctionCode == 0 {
		cfg.FunctionCode = DefaultFunctionCode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if obs == nil {
		obs = sensor.NopObserver{}
	}

	r := &Reader{
		cfg: cfg,
		log: logger.WithField("component", "probe"),
		obs: obs,
	}
	r.dial = r.dialRTU
	return r
}

// rtuTransport closes the trace log writer together with the bus.
type rtuTransport struct {
	*modbus.RTUClientHandler
	trace io.Closer
}

func (t *rtuTransport) Close() error {
	err := t.RTUClientHandler.Close()
	if t.trace != nil {
		t.trace.Close()
		t.trace = nil
	}
	return err
}

func (r *Reader) dialRTU(cfg Config) (Transport, Client) {
	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = cfg.DataBits
	handler.Parity = strings.ToUpper(cfg.Parity)
	handler.StopBits = cfg.StopBits
	handler.SlaveId = cfg.SlaveAddress
	handler.Timeout = cfg.Timeout

	t := &rtuTransport{RTUClientHandler: handler}
	if l, ok := r.log.(*logrus.Entry); ok && l.Logger.IsLevelEnabled(logrus.TraceLevel) {
		w := l.WriterLevel(logrus.TraceLevel)
		handler.Logger = log.New(w, "", 0)
		t.trace = w
	}
	return t, modbus.NewClient(handler)
}

// Connect opens the bus. Calling it on an open reader is a no-op.
func (r *Reader) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked()
}

func (r *Reader) connectLocked() error {
	if r.client != nil {
		return nil
	}
	if r.cfg.FunctionCode != functionReadHolding && r.cfg.FunctionCode != functionReadInput {
		return sensor.IO(Channel, fmt.Errorf("unsupported function code %d", r.cfg.FunctionCode))
	}

	transport, client := r.dial(r.cfg)
	if err := transport.Connect(); err != nil {
		transport.Close()
		return sensor.IO(Channel, fmt.Errorf("failed to open %s: %w", r.cfg.Port, err))
	}
	r.transport = transport
	r.client = client
	r.log.WithField("port", r.cfg.Port).Infof("connected to slave %d at %d baud", r.cfg.SlaveAddress, r.cfg.BaudRate)
	return nil
}

// Close closes the bus connection.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport == nil {
		return nil
	}
	err := r.transport.Close()
	r.transport = nil
	r.client = nil
	return err
}

// isConnected returns whether the bus is open.
func (r *Reader) isConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client != nil
}

// Read performs one block read and decodes the three parameters.
// Bus failures are returned as they are; there is no retry.
func (r *Reader) Read(ctx context.Context) (Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	if err := r.connectLocked(); err != nil {
		return Reading{}, err
	}

	var (
		data []byte
		err  error
	)
	if r.cfg.FunctionCode == functionReadHolding {
		data, err = r.client.ReadHoldingRegisters(r.cfg.BaseRegister, RegisterCount)
	} else {
		data, err = r.client.ReadInputRegisters(r.cfg.BaseRegister, RegisterCount)
	}
	if err != nil {
		return Reading{}, r.classifyLocked(err)
	}
	if len(data) < RegisterCount*2 {
		return Reading{}, sensor.IO(Channel, fmt.Errorf("short response: got %d bytes, want %d", len(data), RegisterCount*2))
	}

	regs := make([]uint16, RegisterCount)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	r.log.Debugf("registers: %v", regs)

	return r.decodeBlock(regs), nil
}

// decodeBlock decodes each parameter from its register pair.
func (r *Reader) decodeBlock(regs []uint16) Reading {
	var reading Reading
	for _, p := range registerMap {
		high, low := regs[p.offset], regs[p.offset+1]
		v, err := Decode(high, low)
		if err != nil {
			r.obs.DecodeFallback(p.name)
			r.log.WithFields(logrus.Fields{
				"parameter": p.name,
				"high":      fmt.Sprintf("0x%04x", high),
				"low":       fmt.Sprintf("0x%04x", low),
			}).Warn("register pair not decodable, using 0")
		}
		p.set(&reading, float64(v))
	}
	return reading
}

// classifyLocked maps a bus error to a sensor error and drops the
// connection on anything other than a timeout.
func (r *Reader) classifyLocked(err error) error {
	if isTimeout(err) {
		return sensor.Timeout(Channel, err)
	}

	var mbErr *modbus.ModbusError
	if !errors.As(err, &mbErr) && r.transport != nil {
		if cerr := r.transport.Close(); cerr != nil {
			r.log.WithError(cerr).Debug("error closing bus")
		}
		r.transport = nil
		r.client = nil
	}
	return sensor.IO(Channel, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
