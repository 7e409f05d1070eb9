package provider

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexNumber(t *testing.T) {
	tests := []struct {
		in    string
		want  float64
		valid bool
	}{
		{in: `1250000`, want: 1250000, valid: true},
		{in: `"1,250,000.50"`, want: 1250000.5, valid: true},
		{in: `" "`},
		{in: `null`},
	}
	for _, tt := range tests {
		var n flexNumber
		require.NoError(t, json.Unmarshal([]byte(tt.in), &n), tt.in)
		assert.Equal(t, tt.valid, n.Valid, tt.in)
		assert.Equal(t, tt.want, n.Value, tt.in)
	}
}

func TestFlexNumber_RejectsNonFinite(t *testing.T) {
	for _, in := range []string{`"NaN"`, `"nan"`, `"Inf"`, `"-Inf"`, `"Infinity"`, `"+Infinity"`} {
		var n flexNumber
		err := json.Unmarshal([]byte(in), &n)
		require.Error(t, err, in)
		assert.Contains(t, err.Error(), "not a finite number")
	}
}

func TestFlexNumber_AsIntClamps(t *testing.T) {
	assert.Equal(t, 3, flexNumber{Value: 2.6, Valid: true}.asInt())
	assert.Equal(t, math.MaxInt, flexNumber{Value: 1e300, Valid: true}.asInt())
	assert.Equal(t, math.MinInt, flexNumber{Value: -1e300, Valid: true}.asInt())
}
