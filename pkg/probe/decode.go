package probe

import (
	"strconv"

	"github.com/chewxy/math32"

	"github.com/itohio/hydromon/pkg/sensor"
)

// Decode reconstructs a binary32 value from a register pair.
//
// The words are rendered as unpadded hex and concatenated; only an 8 digit
// result is reinterpreted as float bits. Any word below 0x1000 therefore
// yields 0 and sensor.ErrDecodeFallback, even when the pair holds a valid
// float. Existing deployments rely on this, so it is kept as is.
func Decode(high, low uint16) (float32, error) {
	digits := strconv.FormatUint(uint64(high), 16) + strconv.FormatUint(uint64(low), 16)
	if len(digits) != 8 {
		return 0, sensor.ErrDecodeFallback
	}

	bits, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return 0, sensor.ErrDecodeFallback
	}
	return math32.Float32frombits(uint32(bits)), nil
}

// Split returns the register pair holding the bits of f, high word first.
func Split(f float32) (high, low uint16) {
	bits := math32.Float32bits(f)
	return uint16(bits >> 16), uint16(bits)
}
