package ranger

import (
	"math"
	"strconv"
	"strings"

	"github.com/itohio/hydromon/pkg/sensor"
)

const (
	// NoEchoSentinel is reported by the radar when no echo was received.
	NoEchoSentinel = 9999999
	// distanceField is the 0-based index of the distance magnitude in a frame.
	distanceField = 3
	// fieldSeparator separates the fields of a frame.
	fieldSeparator = ";"
)

// ParseFrame parses one line from the distance channel.
// Format: <f0>;<f1>;<f2>;<distance>;...
// Example: 0001;2023-03-30;12:00:00;0012.34;cm
//
// Empty lines and lines holding a single NUL byte return sensor.ErrNoReading.
// The sentinel NoEchoSentinel maps to 0. Any other value is multiplied by
// scale (values <= 0 mean 1).
func ParseFrame(line string, scale float64) (float64, error) {
	line = strings.TrimRight(line, "\r\n")

	parts := strings.Split(line, fieldSeparator)
	if len(parts) == 0 || (len(parts) == 1 && (parts[0] == "" || parts[0] == "\x00")) {
		return 0, sensor.ErrNoReading
	}
	if len(parts) <= distanceField {
		return 0, &sensor.ParseError{
			Line:   line,
			Reason: "expected at least 4 fields, got " + strconv.Itoa(len(parts)),
		}
	}

	raw := strings.TrimSpace(parts[distanceField])
	p1, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &sensor.ParseError{Line: line, Reason: "invalid distance field", Err: err}
	}
	if math.IsNaN(p1) || math.IsInf(p1, 0) {
		return 0, &sensor.ParseError{Line: line, Reason: "distance field is not finite"}
	}

	if p1 == NoEchoSentinel {
		return 0, nil
	}
	if scale <= 0 {
		scale = 1
	}
	return p1 * scale, nil
}

// ApplyOffset combines a raw reading with the instrument offset.
// polarity -1 yields offset-raw, +1 yields raw-offset. Zero is treated as -1.
func ApplyOffset(raw, offset float64, polarity int) float64 {
	if polarity > 0 {
		return raw - offset
	}
	return offset - raw
}
