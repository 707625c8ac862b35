package device

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode converts the big-endian register bytes of r into a scaled value.
// NaN and infinite readings are rejected; results are rounded to three decimals.
func Decode(r Register, data []byte) (float64, error) {
	want := int(r.Type.Words()) * 2
	if want == 0 {
		return 0, fmt.Errorf("register %s: unknown type %q", r.Name, r.Type)
	}
	if len(data) < want {
		return 0, fmt.Errorf("register %s: got %d bytes, want %d", r.Name, len(data), want)
	}

	var v float64
	switch r.Type {
	case Int16:
		v = float64(int16(binary.BigEndian.Uint16(data)))
	case Uint16:
		v = float64(binary.BigEndian.Uint16(data))
	case Int32:
		v = float64(int32(binary.BigEndian.Uint32(data)))
	case Uint32:
		v = float64(binary.BigEndian.Uint32(data))
	case Float32:
		v = float64(math.Float32frombits(binary.BigEndian.Uint32(data)))
	case Float64:
		v = math.Float64frombits(binary.BigEndian.Uint64(data))
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("register %s: invalid value %v", r.Name, v)
	}
	if r.Scale != 0 {
		v *= r.Scale
	}
	return math.Round(v*1000) / 1000, nil
}
