// internal/telemetry/record.go
package telemetry

// MaxSheet is the highest destination index a tag can select.
const MaxSheet = 15

// Record is a decoded frame.
type Record struct {
	Meta bool
	Raw  []byte

	// payload records
	Data           []Datum
	EndOfRecordset bool
	Sheet          int // high nibble of the first tag
	Unconsumed     int // trailing bytes that did not form a whole datum

	// meta records
	Control Meta
}

// Decode turns a frame into a record.
func Decode(f Frame) Record {
	if f.Meta {
		return Record{Meta: true, Raw: f.Raw, Control: DecodeMeta(f.Raw)}
	}
	return DecodePayload(f.Raw)
}

// DecodePayload reads tagged data until end-of-recordset, an unknown tag,
// or a value that runs past the end. None of these are errors.
func DecodePayload(raw []byte) Record {
	rec := Record{Raw: raw}
	if len(raw) > 0 {
		rec.Sheet = TagSheet(raw[0])
	}

	i := 0
	for i < len(raw) {
		t := TagType(raw[i])
		if t == TypeEndOfRecordset {
			rec.EndOfRecordset = true
			i++
			break
		}
		if !t.Valid() {
			break
		}
		d, n, ok := decodeDatum(t, raw[i+1:])
		if !ok {
			break
		}
		rec.Data = append(rec.Data, d)
		i += 1 + n
	}
	rec.Unconsumed = len(raw) - i
	return rec
}
