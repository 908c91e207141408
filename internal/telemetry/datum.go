// internal/telemetry/datum.go
package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Type is the low nibble of a tag byte.
type Type byte

const (
	TypeEndOfRecordset Type = 0
	TypeInt8           Type = 1
	TypeInt16          Type = 2
	TypeInt32          Type = 3
	TypeUint8          Type = 4
	TypeUint16         Type = 5
	TypeUint32         Type = 6
	TypeFloat32        Type = 7
	TypeBool           Type = 8
	TypeChar           Type = 9
	TypeString         Type = 10
)

var typeNames = [...]string{
	TypeEndOfRecordset: "end",
	TypeInt8:           "int8",
	TypeInt16:          "int16",
	TypeInt32:          "int32",
	TypeUint8:          "uint8",
	TypeUint16:         "uint16",
	TypeUint32:         "uint32",
	TypeFloat32:        "float32",
	TypeBool:           "bool",
	TypeChar:           "char",
	TypeString:         "string",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// Valid reports whether the type is one the decoder understands.
func (t Type) Valid() bool { return t <= TypeString }

// size is the fixed value width; strings report 1 for their length byte.
func (t Type) size() int {
	switch t {
	case TypeInt8, TypeUint8, TypeBool, TypeChar, TypeString:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	}
	return 0
}

// TagType returns the type index of a tag byte.
func TagType(tag byte) Type { return Type(tag & 0x0F) }

// TagSheet returns the destination sheet (0-15) of a tag byte.
func TagSheet(tag byte) int { return int(tag >> 4) }

// Datum is one decoded telemetry value.
type Datum struct {
	Type  Type
	Int   int64   // signed types
	Uint  uint64  // unsigned types, char and bool
	Float float32 // float32
	Text  string  // string and char
}

// Value returns the datum as its natural Go type.
func (d Datum) Value() any {
	switch d.Type {
	case TypeInt8:
		return int8(d.Int)
	case TypeInt16:
		return int16(d.Int)
	case TypeInt32:
		return int32(d.Int)
	case TypeUint8:
		return uint8(d.Uint)
	case TypeUint16:
		return uint16(d.Uint)
	case TypeUint32:
		return uint32(d.Uint)
	case TypeFloat32:
		return d.Float
	case TypeBool:
		return d.Uint != 0
	case TypeChar, TypeString:
		return d.Text
	}
	return nil
}

// String renders the datum the way the downstream sheets expect it.
// Booleans render as "True"/"False".
func (d Datum) String() string {
	switch d.Type {
	case TypeInt8, TypeInt16, TypeInt32:
		return strconv.FormatInt(d.Int, 10)
	case TypeUint8, TypeUint16, TypeUint32:
		return strconv.FormatUint(d.Uint, 10)
	case TypeFloat32:
		return strconv.FormatFloat(float64(d.Float), 'g', -1, 32)
	case TypeBool:
		if d.Uint != 0 {
			return "True"
		}
		return "False"
	case TypeChar, TypeString:
		return d.Text
	}
	return ""
}

// Int64 returns a numeric view; strings are 0.
func (d Datum) Int64() int64 {
	switch d.Type {
	case TypeInt8, TypeInt16, TypeInt32:
		return d.Int
	case TypeUint8, TypeUint16, TypeUint32, TypeBool, TypeChar:
		return int64(d.Uint)
	case TypeFloat32:
		return int64(d.Float)
	}
	return 0
}

// Float64 returns a numeric view; strings are 0.
func (d Datum) Float64() float64 {
	if d.Type == TypeFloat32 {
		return float64(d.Float)
	}
	return float64(d.Int64())
}

// decodeDatum reads one value of type t from b. It returns the datum and the
// number of bytes used, or ok=false if b is too short.
func decodeDatum(t Type, b []byte) (d Datum, n int, ok bool) {
	d.Type = t
	w := t.size()
	if w == 0 || len(b) < w {
		return d, 0, false
	}
	switch t {
	case TypeInt8:
		d.Int = int64(int8(b[0]))
	case TypeUint8, TypeBool:
		d.Uint = uint64(b[0])
	case TypeChar:
		d.Uint = uint64(b[0])
		d.Text = string(rune(b[0]))
	case TypeInt16:
		d.Int = int64(int16(binary.LittleEndian.Uint16(b)))
	case TypeUint16:
		d.Uint = uint64(binary.LittleEndian.Uint16(b))
	case TypeInt32:
		d.Int = int64(int32(binary.LittleEndian.Uint32(b)))
	case TypeUint32:
		d.Uint = uint64(binary.LittleEndian.Uint32(b))
	case TypeFloat32:
		d.Float = math.Float32frombits(binary.LittleEndian.Uint32(b))
	case TypeString:
		l := int(b[0])
		if len(b) < 1+l {
			return d, 0, false
		}
		d.Text = string(b[1 : 1+l])
		return d, 1 + l, true
	}
	return d, w, true
}
