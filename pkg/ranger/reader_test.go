package ranger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/itohio/hydromon/pkg/sensor"
)

// fakePort replays chunks; an exhausted port behaves like a read timeout.
type fakePort struct {
	mu      sync.Mutex
	chunks  []string
	readErr error
	closed  bool
	resets  int
	timeout time.Duration
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		return 0, p.readErr
	}
	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.resets++
	return nil
}

type countingObserver struct {
	parseErrors int
}

func (o *countingObserver) ParseError(string)     { o.parseErrors++ }
func (o *countingObserver) DecodeFallback(string) {}

func newTestReader(cfg Config, p *fakePort, obs sensor.Observer) (*Reader, *serial.Mode) {
	r := New(cfg, nil, obs)
	var gotMode serial.Mode
	r.open = func(name string, mode *serial.Mode) (port, error) {
		gotMode = *mode
		return p, nil
	}
	return r, &gotMode
}

func TestReader_Defaults(t *testing.T) {
	p := &fakePort{chunks: []string{"a;b;c;10\n"}}
	r, mode := newTestReader(Config{Port: "COM10"}, p, nil)

	require.NoError(t, r.Connect())
	assert.True(t, r.isConnected())
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, time.Second, p.timeout)
}

func TestReader_NonPositiveCeilingUsesDefault(t *testing.T) {
	p := &fakePort{chunks: []string{"a;b;c;50\n"}}
	r, _ := newTestReader(Config{Port: "COM10", Ceiling: -5, Offset: 40}, p, nil)

	v, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -10.0, v)
}

func TestReader_Read(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		chunks []string
		want   float64
	}{
		{
			name:   "offset minus raw",
			cfg:    Config{Offset: 40, Polarity: -1},
			chunks: []string{"0001;d;t;12.34;cm\r\n"},
			want:   27.66,
		},
		{
			name:   "raw minus offset",
			cfg:    Config{Offset: 40, Polarity: 1},
			chunks: []string{"0001;d;t;12.34;cm\r\n"},
			want:   -27.66,
		},
		{
			name:   "frame split across reads",
			cfg:    Config{},
			chunks: []string{"0001;d;", "t;5.5", ";cm\n"},
			want:   -5.5,
		},
		{
			name:   "empty and nul lines are skipped",
			cfg:    Config{},
			chunks: []string{"\n\x00\n\r\na;b;c;3\n"},
			want:   -3,
		},
		{
			name:   "malformed lines are skipped",
			cfg:    Config{},
			chunks: []string{"a;b\n", "a;b;c;x\n", "a;b;c;2\n"},
			want:   -2,
		},
		{
			name:   "values above ceiling are skipped",
			cfg:    Config{Ceiling: 120},
			chunks: []string{"a;b;c;500\n", "a;b;c;121\n", "a;b;c;100\n"},
			want:   -100,
		},
		{
			name:   "sentinel breaks the ceiling loop",
			cfg:    Config{Ceiling: 120, Offset: 40},
			chunks: []string{"a;b;c;500\n", "a;b;c;9999999\n"},
			want:   40,
		},
		{
			name:   "x10 scale applies before ceiling",
			cfg:    Config{Ceiling: 120, Scale: 10},
			chunks: []string{"a;b;c;15\n", "a;b;c;11\n"},
			want:   -110,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePort{chunks: tt.chunks}
			obs := &countingObserver{}
			r, _ := newTestReader(tt.cfg, p, obs)

			got, err := r.Read(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestReader_ReadCountsParseErrors(t *testing.T) {
	p := &fakePort{chunks: []string{"bad\n", "a;b;c;zz\n", "a;b;c;1\n"}}
	obs := &countingObserver{}
	r, _ := newTestReader(Config{}, p, obs)

	_, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, obs.parseErrors)
}

func TestReader_ReadTimeout(t *testing.T) {
	p := &fakePort{}
	r, _ := newTestReader(Config{}, p, nil)

	_, err := r.Read(context.Background())
	require.Error(t, err)
	assert.True(t, sensor.IsTimeout(err), "expected timeout, got %v", err)
	assert.True(t, r.isConnected(), "a timeout keeps the port open")
}

func TestReader_ReadPartialLineTimesOut(t *testing.T) {
	p := &fakePort{chunks: []string{"a;b;c;12"}}
	r, _ := newTestReader(Config{}, p, nil)

	_, err := r.Read(context.Background())
	assert.True(t, sensor.IsTimeout(err))
}

func TestReader_MaxLines(t *testing.T) {
	p := &fakePort{chunks: []string{"a;b;c;500\n", "a;b;c;500\n", "a;b;c;1\n"}}
	r, _ := newTestReader(Config{Ceiling: 120, MaxLines: 2}, p, nil)

	_, err := r.Read(context.Background())
	assert.True(t, sensor.IsTimeout(err))
}

func TestReader_ReadErrorDropsConnection(t *testing.T) {
	p := &fakePort{readErr: errors.New("device unplugged")}
	r, _ := newTestReader(Config{}, p, nil)

	_, err := r.Read(context.Background())
	require.Error(t, err)
	assert.True(t, sensor.IsIO(err))
	assert.False(t, r.isConnected())
	assert.True(t, p.closed)
}

func TestReader_OpenFailure(t *testing.T) {
	r := New(Config{Port: "/dev/missing"}, nil, nil)
	r.open = func(string, *serial.Mode) (port, error) {
		return nil, errors.New("no such file")
	}

	_, err := r.Read(context.Background())
	assert.True(t, sensor.IsIO(err))
	assert.False(t, r.isConnected())
}

func TestReader_InvalidParity(t *testing.T) {
	r, _ := newTestReader(Config{Parity: "X"}, &fakePort{}, nil)
	assert.Error(t, r.Connect())
}

func TestReader_FlushInput(t *testing.T) {
	p := &fakePort{chunks: []string{"a;b;c;1\n"}}
	r, _ := newTestReader(Config{FlushInput: true}, p, nil)

	_, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.resets)
}

func TestReader_CancelledContext(t *testing.T) {
	p := &fakePort{chunks: []string{"a;b;c;1\n"}}
	r, _ := newTestReader(Config{}, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReader_Close(t *testing.T) {
	p := &fakePort{}
	r, _ := newTestReader(Config{}, p, nil)

	require.NoError(t, r.Connect())
	require.NoError(t, r.Close())
	assert.True(t, p.closed)
	assert.False(t, r.isConnected())
	assert.NoError(t, r.Close(), "closing twice is a no-op")
}
