package model

// ClientConfig is a tenant's outbound endpoint configuration.
type ClientConfig struct {
	ClientID          string            `db:"client_id"`
	ClientName        string            `db:"client_name"`
	Endpoint          string            `db:"api_endpoint_url"`
	HTTPMethod        string            `db:"http_method"`
	ContentType       string            `db:"content_type"`
	APIKey            string            `db:"api_key"`
	APIKeyHeader      string            `db:"api_key_header_name"`
	AdditionalHeaders map[string]string `db:"additional_headers"`
	TimeoutSeconds    int               `db:"timeout_seconds"`
	RetryEnabled      bool              `db:"retry_enabled"`
	IsActive          bool              `db:"is_active"`
}
