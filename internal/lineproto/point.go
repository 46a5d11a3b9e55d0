// Package lineproto generates random InfluxDB line-protocol points.
package lineproto

import (
	"io"
	"math/rand"
	"strconv"
	"time"
)

// Measurement is the fixed measurement name of every generated point.
const Measurement = "table"

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// WritePoint appends exactly one newline-terminated line-protocol record
// to w. The record carries one random single-character tag, an 8-character
// string field, full-range signed and unsigned integer fields, a float
// field in [0,1), a boolean field and the current wall-clock time in
// nanoseconds:
//
//	table,tag=a field_s="bcdefghi",field_i=-42i,field_u=7u,field_f=0.5,field_b=true 1700000000000000000
//
// Timestamps are sampled once per record, so lines within one batch are in
// wall-clock order.
func WritePoint(w io.Writer, rng *rand.Rand) error {
	// Preallocate for the common case: schema overhead plus numeric fields.
	line := make([]byte, 0, 128)

	line = append(line, Measurement...)
	line = append(line, ",tag="...)
	line = appendAlpha(line, rng, 1)
	line = append(line, " field_s=\""...)
	line = appendAlpha(line, rng, 8)
	line = append(line, "\",field_i="...)
	line = strconv.AppendInt(line, int64(rng.Uint64()), 10)
	line = append(line, "i,field_u="...)
	line = strconv.AppendUint(line, rng.Uint64(), 10)
	line = append(line, "u,field_f="...)
	line = strconv.AppendFloat(line, rng.Float64(), 'g', -1, 64)
	line = append(line, ",field_b="...)
	line = strconv.AppendBool(line, rng.Intn(2) == 1)
	line = append(line, ' ')
	line = strconv.AppendInt(line, time.Now().UnixNano(), 10)
	line = append(line, '\n')

	_, err := w.Write(line)
	return err
}

// appendAlpha appends n random ASCII letters.
func appendAlpha(b []byte, rng *rand.Rand, n int) []byte {
	for i := 0; i < n; i++ {
		b = append(b, alphabet[rng.Intn(len(alphabet))])
	}
	return b
}
