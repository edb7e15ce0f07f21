package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEncodeMeasurementFieldsAndTags(t *testing.T) {
	at := time.Unix(0, 1700000000123456789)
	m := Measurement{
		Name: "order_fill",
		Tags: []Tag{{Key: "venue", Value: "dex"}, {Key: "pair", Value: "SOL_USDC"}},
		Fields: []Field{
			FieldU64("sequence", 42),
			FieldI64("signed_delta", -7),
			FieldF64("price", 101.5),
			FieldBool("is_maker", true),
			FieldString("order_id", "abc123"),
			FieldDecimal("qty", decimal.NewFromFloat(2.5)),
		},
	}

	line, err := EncodeMeasurement(m, at)
	if err != nil {
		t.Fatalf("EncodeMeasurement: %v", err)
	}

	want := `order_fill,venue=dex,pair=SOL_USDC sequence=42,signed_delta=-7,price=101.5,is_maker=true,order_id="abc123",qty=2.5 1700000000123456789`
	if line != want {
		t.Fatalf("line =\n%s\nwant\n%s", line, want)
	}
}

func TestEncodeMeasurementDecimalIntegerValuedGetsTrailingZero(t *testing.T) {
	m := Measurement{
		Name:   "inventory",
		Fields: []Field{FieldDecimal("position", decimal.NewFromInt(5))},
	}
	line, err := EncodeMeasurement(m, time.Unix(0, 1))
	if err != nil {
		t.Fatalf("EncodeMeasurement: %v", err)
	}
	if !strings.Contains(line, "position=5.0 ") {
		t.Fatalf("line = %q, want integer-valued decimal rendered with trailing .0", line)
	}
}

func TestEncodeMeasurementNoFieldsErrors(t *testing.T) {
	_, err := EncodeMeasurement(Measurement{Name: "empty"}, time.Unix(0, 1))
	if err == nil {
		t.Fatal("expected error for measurement with no fields")
	}
}

func TestEncodeMeasurementNoTags(t *testing.T) {
	m := Measurement{Name: "heartbeat", Fields: []Field{FieldU64("beats", 1)}}
	line, err := EncodeMeasurement(m, time.Unix(0, 5))
	if err != nil {
		t.Fatalf("EncodeMeasurement: %v", err)
	}
	if line != "heartbeat beats=1 5" {
		t.Fatalf("line = %q", line)
	}
}
