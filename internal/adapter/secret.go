package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/leapstack-labs/laketower/internal/storage"
)

// SecretConfig defines a DuckDB secret for cloud storage.
type SecretConfig struct {
	// Name of the secret within the session.
	Name string

	// Type: "s3", "gcs", "r2"
	Type string

	// Provider: "config" or "credential_chain"
	Provider string

	// Region for S3 buckets
	Region string

	// Scope limits the secret to a path prefix.
	Scope string

	// KeyID and Secret for explicit credentials.
	KeyID  string
	Secret string

	// Endpoint is host[:port] of an S3 compatible service.
	Endpoint string

	// URLStyle: "vhost" or "path"
	URLStyle string

	// UseSSL: whether to use HTTPS (default true)
	UseSSL *bool
}

// SQL renders the CREATE SECRET statement.
func (s SecretConfig) SQL() string {
	opts := []string{"TYPE " + s.Type}
	add := func(key, val string) {
		if val != "" {
			opts = append(opts, key+" "+QuoteLiteral(val))
		}
	}
	if s.Provider != "" {
		opts = append(opts, "PROVIDER "+s.Provider)
	}
	add("KEY_ID", s.KeyID)
	add("SECRET", s.Secret)
	add("REGION", s.Region)
	add("ENDPOINT", s.Endpoint)
	add("URL_STYLE", s.URLStyle)
	if s.UseSSL != nil {
		opts = append(opts, fmt.Sprintf("USE_SSL %t", *s.UseSSL))
	}
	add("SCOPE", s.Scope)

	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (%s)", QuoteIdent(s.Name), strings.Join(opts, ", "))
}

// S3Secret maps S3 connection options onto a DuckDB secret scoped to a path.
func S3Secret(name, scope string, cfg *storage.S3Config) (SecretConfig, error) {
	secret := SecretConfig{Name: name, Type: "s3", Scope: scope, Provider: "credential_chain"}
	if cfg == nil {
		return secret, nil
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		secret.Provider = "config"
		secret.KeyID = cfg.AccessKeyID
		secret.Secret = cfg.SecretAccessKey
	}
	secret.Region = cfg.Region

	if endpoint := cfg.Endpoint(); endpoint != "" {
		u, err := url.Parse(endpoint)
		if err != nil || u.Host == "" {
			return secret, fmt.Errorf("invalid s3 endpoint url %q", cfg.EndpointURL)
		}
		if u.Scheme == "http" && !cfg.AllowHTTP {
			return secret, fmt.Errorf("s3 endpoint %s uses plain http but s3_allow_http is not set", endpoint)
		}
		useSSL := u.Scheme != "http"
		secret.Endpoint = u.Host
		secret.URLStyle = "path"
		secret.UseSSL = &useSSL
	}
	return secret, nil
}

// CreateSecret loads httpfs and registers the secret in the session.
func (a *DuckDBAdapter) CreateSecret(ctx context.Context, secret SecretConfig) error {
	if err := a.LoadExtensions(ctx, "httpfs"); err != nil {
		return err
	}
	if err := a.Exec(ctx, secret.SQL()); err != nil {
		return fmt.Errorf("failed to create secret %s: %w", secret.Name, err)
	}
	return nil
}
