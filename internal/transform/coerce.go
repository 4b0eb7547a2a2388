package transform

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/relayforge/relayforge/internal/model"
)

// Coerce converts a transformed value to the mapping's declared target
// type. Conversion failures degrade to the input value with a warning
// instead of failing the whole payload.
func Coerce(v any, dt model.DataType) any {
	if v == nil {
		return nil
	}

	switch dt {
	case model.TypeString:
		return stringify(v)

	case model.TypeInteger, model.TypeLong:
		if n, err := cast.ToInt64E(trimmed(v)); err == nil {
			return n
		}

	case model.TypeDouble:
		if f, err := cast.ToFloat64E(trimmed(v)); err == nil {
			return f
		}

	case model.TypeDecimal:
		if d, ok := v.(decimal.Decimal); ok {
			return d
		}
		if d, err := decimal.NewFromString(strings.TrimSpace(stringify(v))); err == nil {
			return d
		}

	case model.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
		s := strings.ToLower(strings.TrimSpace(stringify(v)))
		return s == "true" || s == "1" || s == "yes" || s == "y"

	case model.TypeDate, model.TypeDatetime, model.TypeTimestamp:
		// Formatting is the DATE rule's job; the coercion layer passes
		// temporal values through untouched.
		return v

	case model.TypeArray, model.TypeObject:
		return v

	default:
		return v
	}

	logger.Warn().Interface("value", v).Str("data_type", string(dt)).
		Msg("could not convert value to target type")
	return v
}

// trimmed prepares a value for numeric parsing: strings are trimmed,
// everything else is handed to the parser as-is.
func trimmed(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}
