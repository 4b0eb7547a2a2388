package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayforge/relayforge/internal/model"
)

// ErrNoMappings means a client has no active field mappings configured.
var ErrNoMappings = errors.New("no active field mappings found")

// MappingRepository reads field mappings. Mappings are fetched fresh on
// every request: configuration staleness must never outlive one request,
// so there is deliberately no cache here.
type MappingRepository struct {
	pool *pgxpool.Pool
}

// NewMappingRepository returns a MappingRepository using the given pool.
func NewMappingRepository(pool *pgxpool.Pool) *MappingRepository {
	return &MappingRepository{pool: pool}
}

// ListForClient returns all active mappings for a client in field order.
func (r *MappingRepository) ListForClient(ctx context.Context, clientID string) ([]model.FieldMapping, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT mapping_id, client_id, source_table, source_column, target_field_path,
		       data_type, COALESCE(transformation_rule, ''), is_mandatory,
		       COALESCE(default_value, ''), field_order
		FROM field_mappings
		WHERE client_id = $1 AND is_active
		ORDER BY field_order, mapping_id`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.FieldMapping
	for rows.Next() {
		var (
			m      model.FieldMapping
			rawType string
		)
		if err := rows.Scan(
			&m.MappingID,
			&m.ClientID,
			&m.SourceTable,
			&m.SourceColumn,
			&m.TargetFieldPath,
			&rawType,
			&m.TransformationRule,
			&m.IsMandatory,
			&m.DefaultValue,
			&m.FieldOrder,
		); err != nil {
			return nil, err
		}
		m.DataType = model.ParseDataType(rawType)
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNoMappings
	}
	return list, nil
}
