package amount

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

func TestIsDecimalText(t *testing.T) {
	valid := []string{"", "0", "1", "1.", ".5", "100.25", "0.000001"}
	for _, s := range valid {
		assert.True(t, IsDecimalText(s))
	}

	invalid := []string{"-1", "1e5", "abc", "1.2.3", " 1", "1,5", "+2"}
	for _, s := range invalid {
		assert.False(t, IsDecimalText(s))
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("5.")
	assert.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(5)))

	d, err = Parse(".5")
	assert.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("0.5")))

	d, err = Parse("")
	assert.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = Parse("1e3")
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestRoundTripCommonDecimals(t *testing.T) {
	cases := []struct {
		raw      string
		decimals int32
	}{
		{"1", 6},
		{"1000000", 6},
		{"123456789", 6},
		{"100000000", 8},
		{"2100000000000000", 8},
		{"1", 18},
		{"1000000000000000000", 18},
		{"123456789012345678901234567890", 18},
		{"0", 18},
	}

	for _, tc := range cases {
		formatted, err := FormatUnits(tc.raw, tc.decimals)
		assert.NoError(t, err)

		back, err := ParseUnits(formatted, tc.decimals)
		assert.NoError(t, err)
		assert.Equal(t, back, tc.raw)
	}
}

func TestParseUnitsTruncatesExtraPrecision(t *testing.T) {
	raw, err := ParseUnits("1.1234567", 6)
	assert.NoError(t, err)
	assert.Equal(t, raw, "1123456")
}

func TestFormatUnits(t *testing.T) {
	s, err := FormatUnits("1500000", 6)
	assert.NoError(t, err)
	assert.Equal(t, s, "1.5")

	_, err = FormatUnits("12x", 6)
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = FormatUnits("-5", 6)
	assert.True(t, errors.Is(err, ErrNegative))
}

func TestFixed(t *testing.T) {
	assert.Equal(t, Fixed(decimal.RequireFromString("2.5"), 6), "2.500000")
	assert.Equal(t, Fixed(decimal.RequireFromString("0.1234567"), 6), "0.123457")
}
