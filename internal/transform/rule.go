package transform

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/model"
)

var logger zerolog.Logger = log.With().Str("component", "transform").Logger()

// Op is one parsed transformation step. Apply never fails: a step that
// cannot handle its input passes the value through unchanged.
type Op interface {
	Apply(value any, record model.SourceRecord) any
}

// opParser builds an Op from the argument portion of a rule token.
// A nil error with a nil Op is not allowed; parse failures return an error
// and the token degrades to identity.
type opParser func(args string) (Op, error)

// ops is the closed set of recognized operations, keyed by name.
// The rule grammar ("OP" or "OP:args", joined with "||") is persisted
// configuration and must remain stable.
var ops = map[string]opParser{
	"DATE":          parseDateOp,
	"CONCAT":        parseConcatOp,
	"TRIM":          func(string) (Op, error) { return trimOp{}, nil },
	"UPPERCASE":     func(string) (Op, error) { return upperOp{}, nil },
	"LOWERCASE":     func(string) (Op, error) { return lowerOp{}, nil },
	"REPLACE":       parseReplaceOp,
	"SUBSTRING":     parseSubstringOp,
	"PAD_LEFT":      parsePadOp(true),
	"PAD_RIGHT":     parsePadOp(false),
	"ROUND":         parseRoundOp,
	"FORMAT_NUMBER": parseFormatNumberOp,
	"MASK":          parseMaskOp,
}

// Chain is a parsed transformation rule: a sequence of operations applied
// left to right, each consuming the output of the previous one.
type Chain struct {
	raw string
	ops []Op
}

// ParseRule parses a rule string once so repeated applications do not
// re-parse. An empty rule yields an empty chain. Unknown operations and
// malformed arguments are logged and skipped, never fatal: one bad rule
// must not block delivery of an otherwise valid payload.
func ParseRule(rule string) Chain {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return Chain{}
	}

	var parsed []Op
	for _, token := range strings.Split(rule, "||") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		name, args := token, ""
		if i := strings.Index(token, ":"); i >= 0 {
			name, args = token[:i], token[i+1:]
		}
		parser, ok := ops[name]
		if !ok {
			logger.Warn().Str("rule", token).Msg("unknown transformation rule")
			continue
		}
		op, err := parser(args)
		if err != nil {
			logger.Warn().Str("rule", token).Err(err).Msg("invalid transformation arguments")
			continue
		}
		parsed = append(parsed, op)
	}
	return Chain{raw: rule, ops: parsed}
}

// Apply runs the chain over value. record supplies sibling fields for
// cross-field operations such as CONCAT.
func (c Chain) Apply(value any, record model.SourceRecord) any {
	for _, op := range c.ops {
		value = op.Apply(value, record)
	}
	return value
}

// Empty reports whether the chain has no operations.
func (c Chain) Empty() bool { return len(c.ops) == 0 }

// String returns the original rule text.
func (c Chain) String() string { return c.raw }

// Transform parses rule, applies it to value and coerces the result to the
// mapping's target type. Convenience for callers that hold raw rule strings.
func Transform(value any, rule string, dt model.DataType, record model.SourceRecord) any {
	return Coerce(ParseRule(rule).Apply(value, record), dt)
}
