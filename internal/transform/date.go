package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/relayforge/relayforge/internal/model"
)

// Date patterns in stored rules use the pattern letters the mapping
// configuration has always used (yyyy, MM, dd, HH, mm, ss). They are
// translated to Go reference layouts once at parse time.
var patternReplacer = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
	"SSS", "000",
	"'T'", "T",
	"'", "",
)

// knownInputLayouts is the fixed ordered list of layouts tried when a date
// arrives as a string. Order matters: the first successful parse wins.
var knownInputLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"20060102",
}

// dateOp reformats a temporal value to an output pattern. Unparseable
// input is logged and passed through in its raw string form; nil stays nil.
type dateOp struct {
	pattern string
	layout  string
}

func parseDateOp(args string) (Op, error) {
	if strings.TrimSpace(args) == "" {
		return nil, fmt.Errorf("DATE requires an output pattern")
	}
	return dateOp{pattern: args, layout: patternReplacer.Replace(args)}, nil
}

func (o dateOp) Apply(v any, _ model.SourceRecord) any {
	if v == nil {
		return nil
	}

	switch t := v.(type) {
	case time.Time:
		return t.Format(o.layout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.Format(o.layout)
	case string:
		for _, layout := range knownInputLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.Format(o.layout)
			}
		}
		logger.Warn().Str("value", t).Str("pattern", o.pattern).
			Msg("could not parse date string with any known format")
		return t
	}

	logger.Warn().Str("pattern", o.pattern).Type("type", v).
		Msg("unsupported date value type")
	return stringify(v)
}
