package config

import (
	"errors"
	"fmt"
	"net/url"
)

const minSecretLength = 32

// Validate rejects settings the server cannot run with. Production additionally
// refuses the development secrets and short signing keys.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Env {
	case EnvDevelopment, EnvProduction, "test":
	default:
		add("ENV %q is not one of development, production or test", c.Env)
	}
	if c.Port <= 0 || c.Port > 65535 {
		add("PORT %d is out of range", c.Port)
	}
	if c.JWT.RefreshExpiration <= c.JWT.Expiration {
		add("REFRESH_TOKEN_EXPIRATION must be longer than JWT_EXPIRATION")
	}
	if c.Redis.URL != "" {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			add("REDIS_URL: %v", err)
		}
	}
	if c.Assistant.URL != "" {
		if u, err := url.Parse(c.Assistant.URL); err != nil || u.Scheme == "" || u.Host == "" {
			add("ASSISTANT_URL %q is not an absolute URL", c.Assistant.URL)
		}
	}

	if c.IsProduction() {
		checkSecret(add, "JWT_SECRET", c.JWT.Secret, devJWTSecret)
		checkSecret(add, "DOCUMENTS_SIGNED_URL_SECRET", c.Documents.SignedURLSecret, devDocumentsSecret)
		if c.Reports.Enabled {
			checkSecret(add, "REPORTS_SIGNED_URL_SECRET", c.Reports.SignedURLSecret, devReportsSecret)
		}
	}

	return errors.Join(errs...)
}

func checkSecret(add func(string, ...interface{}), name, value, devValue string) {
	switch {
	case value == devValue:
		add("%s still holds the development default", name)
	case len(value) < minSecretLength:
		add("%s must be at least %d bytes", name, minSecretLength)
	}
}
