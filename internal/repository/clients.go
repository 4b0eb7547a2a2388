package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/model"
)

// ErrClientNotFound means no configuration row exists for the client.
var ErrClientNotFound = errors.New("client configuration not found")

// ErrClientInactive means the client exists but is disabled.
var ErrClientInactive = errors.New("client is inactive")

// ClientRepository reads tenant endpoint configuration.
type ClientRepository struct {
	pool *pgxpool.Pool
}

// NewClientRepository returns a ClientRepository using the given pool.
func NewClientRepository(pool *pgxpool.Pool) *ClientRepository {
	return &ClientRepository{pool: pool}
}

// GetConfig returns the configuration for an active client.
func (r *ClientRepository) GetConfig(ctx context.Context, clientID string) (*model.ClientConfig, error) {
	var (
		cfg        model.ClientConfig
		headersRaw []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT client_id, client_name, api_endpoint_url, http_method, content_type,
		       api_key, api_key_header_name, additional_headers, timeout_seconds,
		       retry_enabled, is_active
		FROM client_configurations WHERE client_id = $1`, clientID).Scan(
		&cfg.ClientID,
		&cfg.ClientName,
		&cfg.Endpoint,
		&cfg.HTTPMethod,
		&cfg.ContentType,
		&cfg.APIKey,
		&cfg.APIKeyHeader,
		&headersRaw,
		&cfg.TimeoutSeconds,
		&cfg.RetryEnabled,
		&cfg.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	if !cfg.IsActive {
		return nil, ErrClientInactive
	}
	if len(headersRaw) > 0 {
		if err := json.Unmarshal(headersRaw, &cfg.AdditionalHeaders); err != nil {
			log.Warn().Str("client_id", clientID).Err(err).
				Msg("could not parse additional headers")
		}
	}
	return &cfg, nil
}
