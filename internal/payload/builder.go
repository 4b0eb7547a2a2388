// Package payload constructs outbound JSON payloads from field mappings
// and a flat source record.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/jsontree"
	"github.com/relayforge/relayforge/internal/model"
	"github.com/relayforge/relayforge/internal/transform"
)

var logger zerolog.Logger = log.With().Str("component", "payload").Logger()

// ErrSourceDataNotFound indicates the source record resolved to no data at
// all. Resubmitting without fixing the data would fail identically, so the
// caller must not retry.
var ErrSourceDataNotFound = errors.New("source data not found")

// ErrSerialization indicates the assembled tree could not be encoded to
// its wire form.
var ErrSerialization = errors.New("payload serialization failed")

// MandatoryFieldError lists mandatory mappings that resolved to neither a
// value nor a default, identified by their target payload paths.
type MandatoryFieldError struct {
	Missing []string
}

func (e *MandatoryFieldError) Error() string {
	return "missing mandatory fields: " + strings.Join(e.Missing, ", ")
}

// Builder turns mappings plus one source record into a nested payload tree.
// It is stateless and safe for concurrent use.
type Builder struct{}

// NewBuilder returns a Builder.
func NewBuilder() *Builder { return &Builder{} }

// resolve looks a mapping's value up by bare column name, then by
// table-qualified name, then falls back to the default value. The second
// return reports whether anything resolved.
func resolve(m model.FieldMapping, source model.SourceRecord) (any, bool) {
	if v, ok := source[m.SourceColumn]; ok && v != nil {
		return v, true
	}
	if m.SourceTable != "" {
		if v, ok := source[m.SourceTable+"."+m.SourceColumn]; ok && v != nil {
			return v, true
		}
	}
	if m.DefaultValue != "" {
		return m.DefaultValue, true
	}
	return nil, false
}

// ValidateMandatory reports the target paths of mandatory mappings that
// resolve to neither a source value nor a non-empty default.
func (b *Builder) ValidateMandatory(mappings []model.FieldMapping, source model.SourceRecord) []string {
	var missing []string
	for _, m := range mappings {
		if !m.IsMandatory {
			continue
		}
		if _, ok := resolve(m, source); !ok {
			missing = append(missing, m.TargetFieldPath)
		}
	}
	return missing
}

// Build constructs the payload tree. Mandatory fields are validated first;
// a mapping with no value and no default is skipped entirely, everything
// else is transformed, coerced and placed at its target path.
func (b *Builder) Build(mappings []model.FieldMapping, source model.SourceRecord) (jsontree.Tree, error) {
	if len(source) == 0 {
		return nil, ErrSourceDataNotFound
	}
	if missing := b.ValidateMandatory(mappings, source); len(missing) > 0 {
		return nil, &MandatoryFieldError{Missing: missing}
	}

	pathValues := make(map[string]any, len(mappings))
	for _, m := range mappings {
		value, ok := resolve(m, source)
		if !ok {
			continue
		}
		chain := transform.ParseRule(m.TransformationRule)
		pathValues[m.TargetFieldPath] = transform.Coerce(chain.Apply(value, source), m.DataType)
	}

	tree := jsontree.Assemble(pathValues)
	logger.Debug().Int("fields", len(pathValues)).Msg("payload assembled")
	return tree, nil
}

// BuildAndMerge builds the payload and deep-merges caller-supplied
// overrides on top. Overrides always win.
func (b *Builder) BuildAndMerge(mappings []model.FieldMapping, source model.SourceRecord, overrides map[string]any) (jsontree.Tree, error) {
	tree, err := b.Build(mappings, source)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		tree = jsontree.Merge(tree, jsontree.Tree(overrides))
	}
	return tree, nil
}

// Serialize encodes the payload tree to its wire form.
func Serialize(tree jsontree.Tree) (string, error) {
	raw, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return string(raw), nil
}
