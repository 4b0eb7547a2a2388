package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/relayforge/relayforge/internal/model"
)

// concatOp joins named source fields, replacing the incoming value.
// Nil or absent fields are skipped. If more than two tokens were given and
// the last one is not itself a field present in the record, it is the
// separator; otherwise parts are joined with a single space.
type concatOp struct {
	tokens []string
}

func parseConcatOp(args string) (Op, error) {
	tokens := strings.Split(args, "|")
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	if len(tokens) == 0 || (len(tokens) == 1 && tokens[0] == "") {
		return nil, fmt.Errorf("CONCAT requires at least one field name")
	}
	return concatOp{tokens: tokens}, nil
}

func (o concatOp) Apply(_ any, record model.SourceRecord) any {
	fields, sep := o.tokens, " "
	if len(fields) > 2 {
		last := fields[len(fields)-1]
		if _, ok := record[last]; !ok {
			sep = last
			fields = fields[:len(fields)-1]
		}
	}

	var b strings.Builder
	for _, name := range fields {
		v, ok := record[name]
		if !ok || v == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(stringify(v))
	}
	return b.String()
}

type trimOp struct{}

func (trimOp) Apply(v any, _ model.SourceRecord) any {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}

type upperOp struct{}

func (upperOp) Apply(v any, _ model.SourceRecord) any {
	if s, ok := v.(string); ok {
		return strings.ToUpper(s)
	}
	return v
}

type lowerOp struct{}

func (lowerOp) Apply(v any, _ model.SourceRecord) any {
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	return v
}

// replaceOp is a literal substring replacement ("REPLACE:old>new").
type replaceOp struct {
	old, new string
}

func parseReplaceOp(args string) (Op, error) {
	parts := strings.SplitN(args, ">", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("REPLACE requires old>new")
	}
	return replaceOp{old: parts[0], new: parts[1]}, nil
}

func (o replaceOp) Apply(v any, _ model.SourceRecord) any {
	if s, ok := v.(string); ok {
		return strings.ReplaceAll(s, o.old, o.new)
	}
	return v
}

// substringOp extracts s[start:end] with 0-indexed positions.
// start beyond the value yields "", end clamps to the length.
type substringOp struct {
	start  int
	end    int
	hasEnd bool
}

func parseSubstringOp(args string) (Op, error) {
	parts := strings.Split(args, ",")
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("SUBSTRING start: %w", err)
	}
	op := substringOp{start: start}
	if len(parts) > 1 {
		end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("SUBSTRING end: %w", err)
		}
		op.end, op.hasEnd = end, true
	}
	return op, nil
}

func (o substringOp) Apply(v any, _ model.SourceRecord) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	start := o.start
	if start < 0 {
		start = 0
	}
	if start >= len(s) {
		return ""
	}
	if o.hasEnd {
		end := o.end
		if end > len(s) {
			end = len(s)
		}
		if end < start {
			return ""
		}
		return s[start:end]
	}
	return s[start:]
}

// padOp pads the string form of the value to a minimum length.
type padOp struct {
	length int
	char   byte
	left   bool
}

func parsePadOp(left bool) opParser {
	return func(args string) (Op, error) {
		parts := strings.Split(args, ",")
		length, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("pad length: %w", err)
		}
		char := byte('0')
		if !left {
			char = ' '
		}
		if len(parts) > 1 && parts[1] != "" {
			char = parts[1][0]
		}
		return padOp{length: length, char: char, left: left}, nil
	}
}

func (o padOp) Apply(v any, _ model.SourceRecord) any {
	s := ""
	if v != nil {
		s = stringify(v)
	}
	if len(s) >= o.length {
		return s
	}
	pad := strings.Repeat(string(o.char), o.length-len(s))
	if o.left {
		return pad + s
	}
	return s + pad
}

// roundOp rounds decimal and floating values half-up. Other types pass
// through unchanged.
type roundOp struct {
	places int32
}

func parseRoundOp(args string) (Op, error) {
	places, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return nil, fmt.Errorf("ROUND places: %w", err)
	}
	return roundOp{places: int32(places)}, nil
}

func (o roundOp) Apply(v any, _ model.SourceRecord) any {
	switch n := v.(type) {
	case decimal.Decimal:
		return n.Round(o.places)
	case float64:
		return decimal.NewFromFloat(n).Round(o.places).InexactFloat64()
	case float32:
		return float32(decimal.NewFromFloat32(n).Round(o.places).InexactFloat64())
	}
	return v
}

// formatNumberOp renders a numeric value with locale-aware grouping.
// The decimal scale is taken from the pattern (digits after the '.'),
// e.g. "#,##0.00" formats with two fraction digits.
type formatNumberOp struct {
	scale int
}

func parseFormatNumberOp(args string) (Op, error) {
	if strings.TrimSpace(args) == "" {
		return nil, fmt.Errorf("FORMAT_NUMBER requires a pattern")
	}
	scale := 0
	if i := strings.Index(args, "."); i >= 0 {
		scale = len(args) - i - 1
	}
	return formatNumberOp{scale: scale}, nil
}

var numberPrinter = message.NewPrinter(language.English)

func (o formatNumberOp) Apply(v any, _ model.SourceRecord) any {
	f, err := toFloat(v)
	if err != nil {
		return v
	}
	return numberPrinter.Sprint(number.Decimal(f, number.Scale(o.scale)))
}

// maskOp replaces interior characters with '*', keeping showStart leading
// and showEnd trailing characters visible.
type maskOp struct {
	showStart int
	showEnd   int
}

func parseMaskOp(args string) (Op, error) {
	parts := strings.Split(args, ",")
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("MASK showStart: %w", err)
	}
	end := 0
	if len(parts) > 1 {
		end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("MASK showEnd: %w", err)
		}
	}
	return maskOp{showStart: start, showEnd: end}, nil
}

func (o maskOp) Apply(v any, _ model.SourceRecord) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if len(s) <= o.showStart+o.showEnd {
		return s
	}
	return s[:o.showStart] +
		strings.Repeat("*", len(s)-o.showStart-o.showEnd) +
		s[len(s)-o.showEnd:]
}

// stringify renders a value the way it should appear inside a string
// payload field, avoiding Go-specific formatting of decimals.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case decimal.Decimal:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, error) {
	if d, ok := v.(decimal.Decimal); ok {
		return d.InexactFloat64(), nil
	}
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToFloat64E(v)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}
