package transform

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/relayforge/internal/model"
)

func TestParseRule_ChainAppliesLeftToRight(t *testing.T) {
	chain := ParseRule("TRIM||UPPERCASE")
	got := chain.Apply("  hello world  ", nil)
	assert.Equal(t, "HELLO WORLD", got)
}

func TestParseRule_EmptyRule(t *testing.T) {
	chain := ParseRule("   ")
	assert.True(t, chain.Empty())
	assert.Equal(t, "same", chain.Apply("same", nil))
}

func TestParseRule_UnknownOpSkipped(t *testing.T) {
	chain := ParseRule("FROBNICATE||UPPERCASE")
	assert.Equal(t, "ABC", chain.Apply("abc", nil))
}

func TestParseRule_MalformedArgsSkipped(t *testing.T) {
	// ROUND with non-numeric places degrades to identity.
	chain := ParseRule("ROUND:lots")
	assert.Equal(t, 1.2345, chain.Apply(1.2345, nil))
}

func TestDateRule_StringInput(t *testing.T) {
	tests := []struct {
		name  string
		rule  string
		value string
		want  string
	}{
		{"iso datetime to date", "DATE:yyyy-MM-dd", "2024-06-15 10:30:00", "2024-06-15"},
		{"iso date to slashes", "DATE:dd/MM/yyyy", "2024-06-15", "15/06/2024"},
		{"day first slashes", "DATE:yyyy-MM-dd", "15/06/2024", "2024-06-15"},
		{"compact input", "DATE:yyyy-MM-dd", "20240615", "2024-06-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRule(tt.rule).Apply(tt.value, nil))
		})
	}
}

func TestDateRule_TimeInput(t *testing.T) {
	ts := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "15/06/2024", ParseRule("DATE:dd/MM/yyyy").Apply(ts, nil))
	assert.Equal(t, "2024-06-15T10:30:00", ParseRule("DATE:yyyy-MM-dd'T'HH:mm:ss").Apply(ts, nil))
}

func TestDateRule_UnparseableStringPassesThrough(t *testing.T) {
	assert.Equal(t, "not a date", ParseRule("DATE:yyyy-MM-dd").Apply("not a date", nil))
}

func TestDateRule_NilStaysNil(t *testing.T) {
	assert.Nil(t, ParseRule("DATE:yyyy-MM-dd").Apply(nil, nil))
}

func TestConcat(t *testing.T) {
	record := model.SourceRecord{"first_name": "John", "last_name": "Doe", "middle": nil}

	assert.Equal(t, "John Doe", ParseRule("CONCAT:first_name|last_name").Apply("ignored", record))
	// Last token absent from the record acts as the separator.
	assert.Equal(t, "John-Doe", ParseRule("CONCAT:first_name|last_name|-").Apply(nil, record))
	// Nil fields are skipped without doubling the separator.
	assert.Equal(t, "John Doe", ParseRule("CONCAT:first_name|middle|last_name").Apply(nil, record))
}

func TestReplace(t *testing.T) {
	assert.Equal(t, "A_B_C", ParseRule("REPLACE:->_").Apply("A-B-C", nil))
	assert.Equal(t, 42, ParseRule("REPLACE:a>b").Apply(42, nil))
}

func TestSubstring(t *testing.T) {
	assert.Equal(t, "ABC", ParseRule("SUBSTRING:0,3").Apply("ABCDEFG", nil))
	assert.Equal(t, "DEFG", ParseRule("SUBSTRING:3").Apply("ABCDEFG", nil))
	assert.Equal(t, "", ParseRule("SUBSTRING:10,12").Apply("ABC", nil))
	// End beyond the value clamps instead of panicking.
	assert.Equal(t, "BC", ParseRule("SUBSTRING:1,99").Apply("ABC", nil))
}

func TestPad(t *testing.T) {
	assert.Equal(t, "00042", ParseRule("PAD_LEFT:5").Apply(42, nil))
	assert.Equal(t, "abxxx", ParseRule("PAD_RIGHT:5,x").Apply("ab", nil))
	assert.Equal(t, "toolong", ParseRule("PAD_LEFT:3").Apply("toolong", nil))
	assert.Equal(t, "000", ParseRule("PAD_LEFT:3").Apply(nil, nil))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 3.14, ParseRule("ROUND:2").Apply(3.14159, nil))
	assert.Equal(t, 2.35, ParseRule("ROUND:2").Apply(2.345, nil))

	d := decimal.RequireFromString("10.555")
	got := ParseRule("ROUND:2").Apply(d, nil)
	require.IsType(t, decimal.Decimal{}, got)
	assert.Equal(t, "10.56", got.(decimal.Decimal).String())

	// Non-numeric values pass through.
	assert.Equal(t, "n/a", ParseRule("ROUND:2").Apply("n/a", nil))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "1,234,567.89", ParseRule("FORMAT_NUMBER:#,##0.00").Apply(1234567.891, nil))
	assert.Equal(t, "1,000", ParseRule("FORMAT_NUMBER:#,##0").Apply(1000, nil))
	assert.Equal(t, "oops", ParseRule("FORMAT_NUMBER:#,##0.00").Apply("oops", nil))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "12******90", ParseRule("MASK:2,2").Apply("1234567890", nil))
	assert.Equal(t, "****567890", ParseRule("MASK:0,6").Apply("1234567890", nil))
	// Values too short to mask are returned untouched.
	assert.Equal(t, "123", ParseRule("MASK:2,2").Apply("123", nil))
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, int64(123), Coerce("123", model.TypeInteger))
	assert.Equal(t, int64(7), Coerce(" 7 ", model.TypeLong))
	assert.Equal(t, 3.5, Coerce("3.5", model.TypeDouble))
	assert.Equal(t, true, Coerce("yes", model.TypeBoolean))
	assert.Equal(t, false, Coerce("no", model.TypeBoolean))
	assert.Equal(t, "42", Coerce(42, model.TypeString))
	assert.Nil(t, Coerce(nil, model.TypeInteger))

	d := Coerce("10.25", model.TypeDecimal)
	require.IsType(t, decimal.Decimal{}, d)
	assert.Equal(t, "10.25", d.(decimal.Decimal).String())
}

func TestCoerce_FailureDegradesToInput(t *testing.T) {
	assert.Equal(t, "abc", Coerce("abc", model.TypeInteger))
	assert.Equal(t, "abc", Coerce("abc", model.TypeDouble))
}

func TestTransform_RuleThenCoercion(t *testing.T) {
	got := Transform(" 42 ", "TRIM", model.TypeInteger, nil)
	assert.Equal(t, int64(42), got)
}
