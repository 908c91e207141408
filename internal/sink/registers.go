// internal/sink/registers.go
package sink

import (
	"math"

	"github.com/tamzrod/brickbridge/internal/telemetry"
)

// EncodeDatum converts one datum into holding registers.
//
//	int8/int16/uint8/uint16  1 register
//	int32/uint32/float32     2 registers, high word first
//	bool                     1 register, 0 or 1
//	char                     1 register
//	string                   length register, then 2 chars per register
func EncodeDatum(d telemetry.Datum) []uint16 {
	switch d.Type {
	case telemetry.TypeInt8, telemetry.TypeInt16:
		return []uint16{uint16(int16(d.Int))}
	case telemetry.TypeUint8, telemetry.TypeUint16, telemetry.TypeChar:
		return []uint16{uint16(d.Uint)}
	case telemetry.TypeBool:
		if d.Uint != 0 {
			return []uint16{1}
		}
		return []uint16{0}
	case telemetry.TypeInt32:
		return splitU32(uint32(int32(d.Int)))
	case telemetry.TypeUint32:
		return splitU32(uint32(d.Uint))
	case telemetry.TypeFloat32:
		return splitU32(math.Float32bits(d.Float))
	case telemetry.TypeString:
		b := []byte(d.Text)
		out := make([]uint16, 1, 1+(len(b)+1)/2)
		out[0] = uint16(len(b))
		for i := 0; i < len(b); i += 2 {
			r := uint16(b[i]) << 8
			if i+1 < len(b) {
				r |= uint16(b[i+1])
			}
			out = append(out, r)
		}
		return out
	}
	return nil
}

// EncodeRecord concatenates the registers of every datum in rec.
func EncodeRecord(rec telemetry.Record) []uint16 {
	var out []uint16
	for _, d := range rec.Data {
		out = append(out, EncodeDatum(d)...)
	}
	return out
}

func splitU32(v uint32) []uint16 {
	return []uint16{uint16(v >> 16), uint16(v)}
}
