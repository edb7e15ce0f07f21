// Package telemetry implements the InfluxDB line-protocol measurement
// publisher (§4.13 of the design spec): it batches encoded measurements
// into a growable write buffer and drains it to a persistent HTTPS
// connection with token auth.
package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// fieldKind tags which of Field's value slots is populated, mirroring the
// reference publisher's field-value variant.
type fieldKind int

const (
	fieldU64 fieldKind = iota
	fieldI64
	fieldF64
	fieldBool
	fieldString
	fieldDecimal
)

// Tag is one key/value pair on a measurement. Keys and values are written
// verbatim; callers must not pass characters line protocol reserves
// (commas, spaces, equals signs) the same way the reference publisher
// never escaped them.
type Tag struct {
	Key   string
	Value string
}

// Field is one measurement field, carrying exactly one of the six value
// kinds the reference publisher's InfluxDataType variant supported.
type Field struct {
	Key  string
	kind fieldKind
	u64  uint64
	i64  int64
	f64  float64
	b    bool
	s    string
	dec  decimal.Decimal
}

// FieldU64 builds an unsigned-integer field.
func FieldU64(key string, v uint64) Field { return Field{Key: key, kind: fieldU64, u64: v} }

// FieldI64 builds a signed-integer field.
func FieldI64(key string, v int64) Field { return Field{Key: key, kind: fieldI64, i64: v} }

// FieldF64 builds a floating-point field.
func FieldF64(key string, v float64) Field { return Field{Key: key, kind: fieldF64, f64: v} }

// FieldBool builds a boolean field.
func FieldBool(key string, v bool) Field { return Field{Key: key, kind: fieldBool, b: v} }

// FieldString builds a string field; the value is quoted on encode.
func FieldString(key string, v string) Field { return Field{Key: key, kind: fieldString, s: v} }

// FieldDecimal builds an exact-decimal field, rendered with a trailing
// ".0" when integer-valued so the wire value always reads as a float to
// downstream consumers.
func FieldDecimal(key string, v decimal.Decimal) Field {
	return Field{Key: key, kind: fieldDecimal, dec: v}
}

func (f Field) encode(b *strings.Builder) {
	b.WriteString(f.Key)
	b.WriteByte('=')
	switch f.kind {
	case fieldU64:
		b.WriteString(strconv.FormatUint(f.u64, 10))
	case fieldI64:
		b.WriteString(strconv.FormatInt(f.i64, 10))
	case fieldF64:
		b.WriteString(strconv.FormatFloat(f.f64, 'f', -1, 64))
	case fieldBool:
		b.WriteString(strconv.FormatBool(f.b))
	case fieldString:
		b.WriteByte('"')
		b.WriteString(f.s)
		b.WriteByte('"')
	case fieldDecimal:
		s := f.dec.String()
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		b.WriteString(s)
	}
}

// Measurement is one line-protocol data point: a name, an optional tag
// set, and one or more fields.
type Measurement struct {
	Name   string
	Tags   []Tag
	Fields []Field
}

// EncodeMeasurement renders measurement as one line-protocol line:
//
//	<name>[,<tag>=<value>...] <field>=<value>[,<field>=<value>...] <timestamp_ns>
//
// A measurement with no fields is a precondition violation, matching the
// reference publisher's own requirement.
func EncodeMeasurement(m Measurement, at time.Time) (string, error) {
	if len(m.Fields) == 0 {
		return "", fmt.Errorf("telemetry: measurement %q has no fields", m.Name)
	}

	var b strings.Builder
	b.WriteString(m.Name)
	for _, tag := range m.Tags {
		b.WriteByte(',')
		b.WriteString(tag.Key)
		b.WriteByte('=')
		b.WriteString(tag.Value)
	}
	b.WriteByte(' ')
	for i, f := range m.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		f.encode(&b)
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(at.UnixNano(), 10))
	return b.String(), nil
}
