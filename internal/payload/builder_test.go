package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/relayforge/internal/jsontree"
	"github.com/relayforge/relayforge/internal/model"
)

func orderMappings() []model.FieldMapping {
	return []model.FieldMapping{
		{
			MappingID:       "m1",
			SourceTable:     "orders",
			SourceColumn:    "order_no",
			TargetFieldPath: "order.id",
			DataType:        model.TypeString,
			IsMandatory:     true,
		},
		{
			MappingID:          "m2",
			SourceTable:        "customers",
			SourceColumn:       "name",
			TargetFieldPath:    "order.customer.name",
			DataType:           model.TypeString,
			TransformationRule: "TRIM||UPPERCASE",
		},
		{
			MappingID:       "m3",
			SourceTable:     "orders",
			SourceColumn:    "total",
			TargetFieldPath: "order.total",
			DataType:        model.TypeDouble,
		},
		{
			MappingID:       "m4",
			SourceTable:     "orders",
			SourceColumn:    "currency",
			TargetFieldPath: "order.currency",
			DataType:        model.TypeString,
			DefaultValue:    "USD",
		},
	}
}

func TestBuild_TransformsAndNests(t *testing.T) {
	b := NewBuilder()
	tree, err := b.Build(orderMappings(), model.SourceRecord{
		"order_no": "ORD-42",
		"name":     "  acme corp  ",
		"total":    "99.5",
	})
	require.NoError(t, err)

	id, _ := jsontree.Get(tree, "order.id")
	assert.Equal(t, "ORD-42", id)

	name, _ := jsontree.Get(tree, "order.customer.name")
	assert.Equal(t, "ACME CORP", name)

	total, _ := jsontree.Get(tree, "order.total")
	assert.Equal(t, 99.5, total)

	// No source value, so the default kicks in.
	currency, _ := jsontree.Get(tree, "order.currency")
	assert.Equal(t, "USD", currency)
}

func TestBuild_TableQualifiedResolution(t *testing.T) {
	b := NewBuilder()
	// Bare column is absent; the table-qualified key resolves.
	tree, err := b.Build(orderMappings(), model.SourceRecord{
		"orders.order_no": "ORD-7",
		"customers.name":  "acme",
	})
	require.NoError(t, err)

	id, _ := jsontree.Get(tree, "order.id")
	assert.Equal(t, "ORD-7", id)
}

func TestBuild_EmptySourceFailsFast(t *testing.T) {
	_, err := NewBuilder().Build(orderMappings(), model.SourceRecord{})
	assert.ErrorIs(t, err, ErrSourceDataNotFound)
}

func TestBuild_MissingMandatoryReportsTargetPaths(t *testing.T) {
	_, err := NewBuilder().Build(orderMappings(), model.SourceRecord{
		"name": "acme",
	})
	var mfe *MandatoryFieldError
	require.ErrorAs(t, err, &mfe)
	assert.Equal(t, []string{"order.id"}, mfe.Missing)
}

func TestBuild_OptionalUnresolvableSkipped(t *testing.T) {
	tree, err := NewBuilder().Build(orderMappings(), model.SourceRecord{
		"order_no": "ORD-1",
	})
	require.NoError(t, err)

	_, ok := jsontree.Get(tree, "order.customer.name")
	assert.False(t, ok)
	_, ok = jsontree.Get(tree, "order.total")
	assert.False(t, ok)
}

func TestValidateMandatory_DefaultSatisfies(t *testing.T) {
	mappings := []model.FieldMapping{{
		MappingID:       "m1",
		SourceColumn:    "status",
		TargetFieldPath: "status",
		DataType:        model.TypeString,
		IsMandatory:     true,
		DefaultValue:    "NEW",
	}}
	missing := NewBuilder().ValidateMandatory(mappings, model.SourceRecord{"other": 1})
	assert.Empty(t, missing)
}

func TestBuildAndMerge_OverridesWin(t *testing.T) {
	tree, err := NewBuilder().BuildAndMerge(orderMappings(), model.SourceRecord{
		"order_no": "ORD-1",
	}, map[string]any{
		"order": map[string]any{"priority": "high", "id": "OVERRIDDEN"},
	})
	require.NoError(t, err)

	id, _ := jsontree.Get(tree, "order.id")
	assert.Equal(t, "OVERRIDDEN", id)
	priority, _ := jsontree.Get(tree, "order.priority")
	assert.Equal(t, "high", priority)
}

func TestSerialize(t *testing.T) {
	tree := jsontree.Assemble(map[string]any{"a.b": 1, "c": "x"})
	body, err := Serialize(tree)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &parsed))
	assert.Equal(t, "x", parsed["c"])
}
