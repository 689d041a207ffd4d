package config

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/lancer-kit/noble"
)

// UpstreamCfg holds the service-account credentials and knobs for the
// private mapping backend. The username/password pair never leaves this
// process; clients only ever see their own opaque keys.
type UpstreamCfg struct {
	// Portal is the credential-exchange host, e.g. https://www.arcgis.com.
	Portal  string `json:"portal" yaml:"portal"`
	Referer string `json:"referer" yaml:"referer"`

	Username noble.Secret `json:"username" yaml:"username"`
	Password noble.Secret `json:"password" yaml:"password"`

	// TokenExpirationMin is the lifetime requested for each issued token.
	TokenExpirationMin int `json:"token_expiration_min" yaml:"token_expiration_min"`
	// RequestTimeoutSec bounds every call to the upstream service.
	RequestTimeoutSec int `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

func (cfg UpstreamCfg) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Portal, validation.Required),
		validation.Field(&cfg.Referer, validation.Required),
		validation.Field(&cfg.Username, validation.Required, noble.RequiredSecret),
		validation.Field(&cfg.Password, validation.Required, noble.RequiredSecret),
	)
}

func (cfg UpstreamCfg) TokenExpiration() int {
	if cfg.TokenExpirationMin <= 0 {
		return 60
	}
	return cfg.TokenExpirationMin
}

func (cfg UpstreamCfg) RequestTimeout() int {
	if cfg.RequestTimeoutSec <= 0 {
		return 30
	}
	return cfg.RequestTimeoutSec
}
