package ranger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/itohio/hydromon/pkg/sensor"
)

// Channel names the distance channel in errors and logs.
const Channel = "distance"

const (
	// DefaultBaudRate is the OTT radar datalogger baud rate.
	DefaultBaudRate = 9600
	// DefaultCeiling is the largest distance accepted without reading another frame.
	DefaultCeiling = 9999
	// DefaultMaxLines bounds the number of frames consumed by one Read.
	DefaultMaxLines = 20
	// DefaultReadTimeout bounds every blocking read on the port.
	DefaultReadTimeout = time.Second

	maxLineLength = 4096
)

// Config holds the distance channel settings.
type Config struct {
	Port        string
	BaudRate    int
	DataBits    int
	Parity      string // "N", "E" or "O"
	StopBits    int
	ReadTimeout time.Duration

	Scale      float64 // 1 for vendor units, 10 for the x10 variant
	Ceiling    float64 // in scaled units; keep reading while the candidate is nonzero and above this
	Offset     float64
	Polarity   int // -1: offset-raw, +1: raw-offset
	MaxLines   int
	FlushInput bool // discard stale buffered frames before each Read
}

// port is the subset of serial.Port the reader needs.
type port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Reader reads distances from the serial rangefinder.
// It must only be used from one goroutine at a time.
type Reader struct {
	cfg Config
	log logrus.FieldLogger
	obs sensor.Observer

	open func(name string, mode *serial.Mode) (port, error)

	mu   sync.Mutex
	conn port
	buf  []byte
}

// New creates a distance channel reader. The port is opened lazily.
func New(cfg Config, log logrus.FieldLogger, obs sensor.Observer) *Reader {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.Polarity == 0 {
		cfg.Polarity = -1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if obs == nil {
		obs = sensor.NopObserver{}
	}

	return &Reader{
		cfg:  cfg,
		log:  log.WithField("component", "ranger"),
		obs:  obs,
		open: openSerial,
	}
}

func openSerial(name string, mode *serial.Mode) (port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Connect opens the serial port. Calling it on an open reader is a no-op.
func (r *Reader) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked()
}

func (r *Reader) connectLocked() error {
	if r.conn != nil {
		return nil
	}

	parity, err := parseParity(r.cfg.Parity)
	if err != nil {
		return sensor.IO(Channel, err)
	}
	stopBits := serial.OneStopBit
	if r.cfg.StopBits == 2 {
		stopBits = serial.TwoStopBits
	}
	mode := &serial.Mode{
		BaudRate: r.cfg.BaudRate,
		DataBits: r.cfg.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}

	conn, err := r.open(r.cfg.Port, mode)
	if err != nil {
		return sensor.IO(Channel, fmt.Errorf("failed to open serial port %s: %w", r.cfg.Port, err))
	}
	if err := conn.SetReadTimeout(r.cfg.ReadTimeout); err != nil {
		conn.Close()
		return sensor.IO(Channel, fmt.Errorf("failed to set read timeout: %w", err))
	}

	r.conn = conn
	r.buf = r.buf[:0]
	r.log.WithField("port", r.cfg.Port).Infof("connected at %d baud", r.cfg.BaudRate)
	return nil
}

// Close closes the serial port.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.buf = r.buf[:0]
	return err
}

// isConnected returns whether the port is open.
func (r *Reader) isConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Read returns one distance with the instrument offset applied.
//
// Frames without a reading and malformed frames are skipped. Frames are
// consumed while the candidate is nonzero and above the configured ceiling;
// the first frame that is not returns its value.
func (r *Reader) Read(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connectLocked(); err != nil {
		return 0, err
	}
	if r.cfg.FlushInput {
		if err := r.conn.ResetInputBuffer(); err != nil {
			r.dropLocked()
			return 0, sensor.IO(Channel, fmt.Errorf("failed to flush input: %w", err))
		}
		r.buf = r.buf[:0]
	}

	for i := 0; i < r.cfg.MaxLines; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		line, err := r.readLineLocked()
		if err != nil {
			return 0, err
		}

		p1, err := ParseFrame(line, r.cfg.Scale)
		if errors.Is(err, sensor.ErrNoReading) {
			continue
		}
		if err != nil {
			r.obs.ParseError(Channel)
			r.log.WithError(err).Warn("skipping malformed frame")
			continue
		}

		if p1 != 0 && p1 > r.cfg.Ceiling {
			r.log.Debugf("frame value %.2f above ceiling %.2f, reading next", p1, r.cfg.Ceiling)
			continue
		}
		return ApplyOffset(p1, r.cfg.Offset, r.cfg.Polarity), nil
	}

	return 0, sensor.Timeout(Channel, fmt.Errorf("no qualifying frame within %d lines", r.cfg.MaxLines))
}

// readLineLocked returns the next line without its terminator.
// A read that yields no bytes within the port timeout is a timeout.
func (r *Reader) readLineLocked() (string, error) {
	var chunk [256]byte
	for {
		if idx := bytes.IndexByte(r.buf, '\n'); idx >= 0 {
			line := string(r.buf[:idx])
			r.buf = append(r.buf[:0], r.buf[idx+1:]...)
			return line, nil
		}
		if len(r.buf) >= maxLineLength {
			line := string(r.buf)
			r.buf = r.buf[:0]
			return line, nil
		}

		n, err := r.conn.Read(chunk[:])
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			r.dropLocked()
			return "", sensor.IO(Channel, fmt.Errorf("read failed: %w", err))
		}
		return "", sensor.Timeout(Channel, fmt.Errorf("no data within %v", r.cfg.ReadTimeout))
	}
}

// dropLocked closes a failed port so the next Read reconnects.
func (r *Reader) dropLocked() {
	if r.conn == nil {
		return
	}
	if err := r.conn.Close(); err != nil {
		r.log.WithError(err).Debug("error closing serial port")
	}
	r.conn = nil
	r.buf = r.buf[:0]
}

func parseParity(p string) (serial.Parity, error) {
	switch p {
	case "", "N", "n":
		return serial.NoParity, nil
	case "E", "e":
		return serial.EvenParity, nil
	case "O", "o":
		return serial.OddParity, nil
	default:
		return serial.NoParity, fmt.Errorf("unsupported parity %q", p)
	}
}
