package model

import "strings"

// DataType is the declared target type of a mapped field.
type DataType string

const (
	TypeString    DataType = "STRING"
	TypeInteger   DataType = "INTEGER"
	TypeLong      DataType = "LONG"
	TypeDecimal   DataType = "DECIMAL"
	TypeDouble    DataType = "DOUBLE"
	TypeBoolean   DataType = "BOOLEAN"
	TypeDate      DataType = "DATE"
	TypeDatetime  DataType = "DATETIME"
	TypeTimestamp DataType = "TIMESTAMP"
	TypeArray     DataType = "ARRAY"
	TypeObject    DataType = "OBJECT"
)

// ParseDataType normalizes a stored data type string. Unrecognized values
// fall back to STRING so a bad row cannot break payload construction.
func ParseDataType(s string) DataType {
	switch dt := DataType(strings.ToUpper(strings.TrimSpace(s))); dt {
	case TypeString, TypeInteger, TypeLong, TypeDecimal, TypeDouble, TypeBoolean,
		TypeDate, TypeDatetime, TypeTimestamp, TypeArray, TypeObject:
		return dt
	default:
		return TypeString
	}
}

// FieldMapping binds one source column to one target payload path. Mappings
// are owned by configuration and read-only here; they are fetched fresh on
// every request so config staleness never outlives one request.
type FieldMapping struct {
	MappingID          string   `db:"mapping_id"`
	ClientID           string   `db:"client_id"`
	SourceTable        string   `db:"source_table"`
	SourceColumn       string   `db:"source_column"`
	TargetFieldPath    string   `db:"target_field_path"`
	DataType           DataType `db:"data_type"`
	TransformationRule string   `db:"transformation_rule"`
	IsMandatory        bool     `db:"is_mandatory"`
	DefaultValue       string   `db:"default_value"`
	FieldOrder         int      `db:"field_order"`
}

// SourceRecord maps column names (optionally table-qualified as
// "table.column") to raw scalar values for one source row. It is consumed
// once per request and never persisted.
type SourceRecord map[string]any
