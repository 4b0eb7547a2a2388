package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/model"
)

// identifierPattern is the only shape of column name this repository will
// splice into a query.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SourceDataRepository reads one flat source row per request. Because the
// table and column names come from mapping configuration, every identifier
// is checked against an allow-list (tables) or a strict pattern (columns)
// before query construction; nothing downstream ever sees an unvalidated
// identifier.
type SourceDataRepository struct {
	pool          *pgxpool.Pool
	allowedTables map[string]bool
	idColumn      string
	logger        zerolog.Logger
}

// NewSourceDataRepository returns a SourceDataRepository restricted to the
// given tables. idColumn defaults to "id".
func NewSourceDataRepository(pool *pgxpool.Pool, allowedTables []string, idColumn string) *SourceDataRepository {
	allowed := make(map[string]bool, len(allowedTables))
	for _, t := range allowedTables {
		allowed[strings.ToLower(t)] = true
	}
	if idColumn == "" {
		idColumn = "id"
	}
	return &SourceDataRepository{
		pool:          pool,
		allowedTables: allowed,
		idColumn:      idColumn,
		logger:        log.With().Str("component", "sourcedata").Logger(),
	}
}

// GetRecord fetches the source row referenced by the mappings. Values are
// stored under both the bare column name and the table-qualified name.
// Unauthorized tables and malformed column names are skipped with a
// warning rather than failing the whole record.
func (r *SourceDataRepository) GetRecord(ctx context.Context, mappings []model.FieldMapping, recordID string) (model.SourceRecord, error) {
	byTable := make(map[string][]string)
	for _, m := range mappings {
		table := strings.ToLower(m.SourceTable)
		if table == "" {
			continue
		}
		if !r.allowedTables[table] {
			r.logger.Warn().Str("table", m.SourceTable).Msg("skipping unauthorized source table")
			continue
		}
		if !identifierPattern.MatchString(m.SourceColumn) {
			r.logger.Warn().Str("column", m.SourceColumn).Msg("skipping invalid column name")
			continue
		}
		if !contains(byTable[table], m.SourceColumn) {
			byTable[table] = append(byTable[table], m.SourceColumn)
		}
	}

	record := model.SourceRecord{}
	for table, columns := range byTable {
		data, err := r.fetchRow(ctx, table, columns, recordID)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", table, err)
		}
		for col, v := range data {
			record[col] = v
			record[table+"."+col] = v
		}
	}
	return record, nil
}

// fetchRow selects the validated columns for one row. Identifiers have
// already passed the allow-list and pattern checks above.
func (r *SourceDataRepository) fetchRow(ctx context.Context, table string, columns []string, recordID string) (map[string]any, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = `"` + c + `"`
	}
	query := fmt.Sprintf(`SELECT %s FROM %q WHERE %q = $1`,
		strings.Join(quoted, ", "), table, r.idColumn)

	rows, err := r.pool.Query(ctx, query, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		r.logger.Warn().Str("table", table).Str("record_id", recordID).Msg("record not found")
		return nil, nil
	}
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	data := make(map[string]any, len(columns))
	for i, col := range columns {
		data[col] = values[i]
	}
	return data, rows.Err()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
