package value

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	u := uuid.New()
	tests := []struct {
		name string
		v    Value
	}{
		{"none", None()},
		{"null", Null()},
		{"bool", Bool(true)},
		{"int", Int(-7)},
		{"float", Float(2.5)},
		{"decimal", Dec(decimal.NewFromFloat(1.50))},
		{"string", Str("hello")},
		{"bytes", Bin([]byte{1, 2, 3})},
		{"datetime", Time(time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC))},
		{"duration", Dur(90 * time.Second)},
		{"uuid", ID(u)},
		{"array", Arr(Int(1), Str("x"), Arr(Bool(true)))},
		{"object", Obj(map[string]Value{"a": Int(1), "nested": Obj(map[string]Value{"b": Str("y")})})},
		{"record", Thing("person", Str("tobie"))},
		{"record int key", Thing("counter", Int(9))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Encode(tt.v)
			got, err := Decode(b)
			require.NoError(t, err)
			assert.True(t, Equal(tt.v, got), "got %s want %s", got, tt.v)
		})
	}
}

func TestEncodeDecodeNaNPreservesBits(t *testing.T) {
	v := Float(math.NaN())
	got, err := Decode(Encode(v))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Float))
	assert.Equal(t, 0, TotalCmpFloat(got.Float, math.NaN()))
}

func TestDecodeTruncatedInputErrors(t *testing.T) {
	b := Encode(Str("hello"))
	_, err := Decode(b[:len(b)-2])
	assert.Error(t, err)
}
