package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
)

// Validate checks that the configuration is valid. Problems are reported as
// criterio.FieldErrors keyed by their yaml path.
func (c *Config) Validate() error {
	var errs criterio.FieldErrors

	if c.DataDir == "" {
		errs = append(errs, fieldErr("data_dir", fmt.Errorf("data directory cannot be empty"))...)
	}

	if err := validateURL(c.API.Endpoint, "http", "https"); err != nil {
		errs = append(errs, fieldErr("api.endpoint", err)...)
	}

	if err := validateURL(c.API.SubscriptionEndpoint, "ws", "wss"); err != nil {
		errs = append(errs, fieldErr("api.subscription_endpoint", err)...)
	}

	if c.API.Timeout < 0 {
		errs = append(errs, fieldErr("api.timeout", fmt.Errorf("must not be negative"))...)
	}

	if c.API.RateLimit < 0 {
		errs = append(errs, fieldErr("api.rate_limit", fmt.Errorf("must not be negative"))...)
	}

	loginPathOK := strings.HasPrefix(c.Auth.LoginPath, "/")
	if !loginPathOK {
		errs = append(errs, fieldErr("auth.login_path", fmt.Errorf("must start with /, got %q", c.Auth.LoginPath))...)
	}

	if !doublestar.ValidatePattern(c.Auth.PathPattern) {
		errs = append(errs, fieldErr("auth.path_pattern", fmt.Errorf("invalid pattern %q", c.Auth.PathPattern))...)
	} else if ok, _ := doublestar.Match(c.Auth.PathPattern, c.Auth.LoginPath); loginPathOK && !ok {
		errs = append(errs, fieldErr("auth.path_pattern", fmt.Errorf("pattern %q does not match login_path %q", c.Auth.PathPattern, c.Auth.LoginPath))...)
	}

	if c.Auth.RefreshLeeway < 0 {
		errs = append(errs, fieldErr("auth.refresh_leeway", fmt.Errorf("must not be negative"))...)
	}

	if c.Polling.Interval <= 0 {
		errs = append(errs, fieldErr("polling.interval", fmt.Errorf("must be positive"))...)
	}

	if c.Polling.MaxConsecutiveErrors < 1 {
		errs = append(errs, fieldErr("polling.max_consecutive_errors", fmt.Errorf("must be at least 1"))...)
	}

	if c.Events.ReconnectAttempts < 0 {
		errs = append(errs, fieldErr("events.reconnect_attempts", fmt.Errorf("must not be negative"))...)
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

func fieldErr(field string, err error) criterio.FieldErrors {
	return criterio.FieldErrors{{Field: field, Err: err}}
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}

	return fmt.Errorf("unsupported scheme %q (want %s)", u.Scheme, strings.Join(schemes, " or "))
}
