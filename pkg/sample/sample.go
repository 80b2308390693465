package sample

import (
	"time"
)

// Sample is one stamped measurement of both channels.
// Samples are values; copies never share state.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	Distance     float64   `json:"distance"`     // cm, instrument offset applied
	Temperature  float64   `json:"temperature"`  // °C
	Conductivity float64   `json:"conductivity"` // mS/cm
	UVStatus     float64   `json:"uvStatus"`     // UV LED status (0 off, 1 on)
}

// Reading is a measurement before it is stamped.
type Reading struct {
	Distance     float64
	Temperature  float64
	Conductivity float64
	UVStatus     float64
}

// At stamps the reading with ts.
func (r Reading) At(ts time.Time) Sample {
	return Sample{
		Timestamp:    ts,
		Distance:     r.Distance,
		Temperature:  r.Temperature,
		Conductivity: r.Conductivity,
		UVStatus:     r.UVStatus,
	}
}
