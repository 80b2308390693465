package window

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/hydromon/pkg/sample"
)

func distances(samples []sample.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Distance
	}
	return out
}

func TestWindow_Eviction(t *testing.T) {
	w := New(3)
	for i := 1; i <= 5; i++ {
		w.Append(sample.Sample{Distance: float64(i)})
	}

	assert.Equal(t, []float64{3, 4, 5}, distances(w.Snapshot()))
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 3, w.Cap())
}

func TestWindow_FIFOLaw(t *testing.T) {
	base := time.Date(2023, 3, 30, 12, 0, 0, 0, time.UTC)

	for capacity := 1; capacity <= 8; capacity++ {
		for m := 0; m <= 3*capacity+1; m++ {
			w := New(capacity)
			for i := 0; i < m; i++ {
				w.Append(sample.Sample{
					Timestamp: base.Add(time.Duration(i) * time.Second),
					Distance:  float64(i),
				})
			}

			snap := w.Snapshot()
			want := min(m, capacity)
			require.Len(t, snap, want, "capacity=%d m=%d", capacity, m)
			for j, s := range snap {
				// The oldest element is the max(0, m-N)-th appended sample.
				assert.Equal(t, float64(max(0, m-capacity)+j), s.Distance, "capacity=%d m=%d j=%d", capacity, m, j)
				if j > 0 {
					assert.True(t, s.Timestamp.After(snap[j-1].Timestamp))
				}
			}
		}
	}
}

func TestWindow_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, DefaultCapacity, New(-1).Cap())
}

func TestWindow_Empty(t *testing.T) {
	w := New(5)
	assert.Empty(t, w.Snapshot())
	assert.Equal(t, 0, w.Len())

	_, ok := w.Latest()
	assert.False(t, ok)
}

func TestWindow_Latest(t *testing.T) {
	w := New(2)
	for i := 1; i <= 3; i++ {
		w.Append(sample.Sample{Distance: float64(i)})
		latest, ok := w.Latest()
		require.True(t, ok)
		assert.Equal(t, float64(i), latest.Distance)
	}
}

func TestWindow_SnapshotIsACopy(t *testing.T) {
	w := New(3)
	w.Append(sample.Sample{Distance: 1})
	w.Append(sample.Sample{Distance: 2})

	snap := w.Snapshot()
	snap[0].Distance = 100
	w.Append(sample.Sample{Distance: 3})
	w.Append(sample.Sample{Distance: 4})

	assert.Equal(t, []float64{100, 2}, distances(snap))
	assert.Equal(t, []float64{2, 3, 4}, distances(w.Snapshot()))
}

func TestWindow_ConcurrentSnapshot(t *testing.T) {
	w := New(10)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			w.Append(sample.Sample{Distance: float64(i)})
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			wg.Wait()
			assert.Equal(t, 10, w.Len())
			return
		default:
			snap := w.Snapshot()
			assert.LessOrEqual(t, len(snap), 10)
			for j := 1; j < len(snap); j++ {
				assert.Equal(t, snap[j-1].Distance+1, snap[j].Distance)
			}
		}
	}
}
