// Package observability bootstraps the New Relic agent and exposes the
// request middleware. Everything here is a no-op when the agent is
// disabled, so local development needs no license key.
package observability

import (
	"github.com/labstack/echo/v4"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/config"
)

// NewApplication starts the agent, or returns nil when disabled.
func NewApplication(cfg *config.ObservabilityConfig) (*newrelic.Application, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.ServiceName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		func(c *newrelic.Config) {
			c.Labels = map[string]string{"environment": cfg.Environment}
		},
	)
	if err != nil {
		return nil, err
	}
	log.Info().Str("service", cfg.ServiceName).Msg("new relic agent started")
	return app, nil
}

// Middleware wraps each request in a New Relic transaction. With a nil
// application it passes requests straight through.
func Middleware(app *newrelic.Application) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if app == nil {
			return next
		}
		return func(c echo.Context) error {
			txn := app.StartTransaction(c.Request().Method + " " + c.Path())
			defer txn.End()

			txn.SetWebRequestHTTP(c.Request())
			c.SetRequest(c.Request().WithContext(newrelic.NewContext(c.Request().Context(), txn)))
			c.Response().Writer = txn.SetWebResponse(c.Response().Writer)

			err := next(c)
			if err != nil {
				txn.NoticeError(err)
			}
			return err
		}
	}
}
