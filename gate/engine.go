package gate

import (
	"tilegate/config"
	"tilegate/metrics"
	"tilegate/models"
	"tilegate/registry"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrRegistryFault marks a registry inconsistency: a client holds a grant
// for an alias no service descriptor exists for. It is a server-side
// fault, never a client denial.
var ErrRegistryFault = errors.New("registry inconsistency")

const (
	reasonUnknownKey   = "unknown or disabled key"
	reasonNotGranted   = "alias not granted"
	reasonUnknownAlias = "unknown alias"
)

// Engine resolves a client key plus dataset alias into an authorization
// decision. Lookups are fresh on every call, registry state may change
// between requests.
type Engine struct {
	store  registry.Storage
	logger zerolog.Logger
}

func NewEngine(logger zerolog.Logger, store registry.Storage) *Engine {
	return &Engine{store: store, logger: logger}
}

// Authorize must run before any upstream call on every client-facing
// endpoint. A denial carries an internal reason for logs only; a non-nil
// error means the registry itself failed or is inconsistent.
func (e *Engine) Authorize(clientKey, alias string) (models.AuthorizationDecision, error) {
	deny := func(reason string) (models.AuthorizationDecision, error) {
		metrics.Inc(config.AuthDeniedRequests)
		e.logger.Info().
			Str("alias", alias).
			Str("reason", reason).
			Msg("authorization denied")
		return models.AuthorizationDecision{Reason: reason}, nil
	}

	if clientKey == "" {
		return deny(reasonUnknownKey)
	}

	client, err := e.store.GetClient(clientKey)
	if err == registry.ErrNotFound {
		return deny(reasonUnknownKey)
	}
	if err != nil {
		return models.AuthorizationDecision{}, errors.Wrap(err, "client lookup failed")
	}

	if client.Disabled {
		return deny(reasonUnknownKey)
	}

	if !client.HasGrant(alias) {
		return deny(reasonNotGranted)
	}

	svc, err := e.store.GetService(alias)
	if err == registry.ErrNotFound {
		// The grant references a service that no longer exists.
		metrics.Inc(config.RegistryFaults)
		e.logger.Error().
			Str("alias", alias).
			Str("client", client.DisplayName).
			Msg("granted alias has no service descriptor")
		return models.AuthorizationDecision{Reason: reasonUnknownAlias}, ErrRegistryFault
	}
	if err != nil {
		return models.AuthorizationDecision{}, errors.Wrap(err, "service lookup failed")
	}

	if len(svc.AllowedFields) == 0 {
		// Descriptors are validated on write, an empty allowlist can
		// only mean hand-edited registry data. Fail closed.
		metrics.Inc(config.RegistryFaults)
		e.logger.Error().Str("alias", alias).Msg("service descriptor has no field allowlist")
		return models.AuthorizationDecision{Reason: reasonUnknownAlias}, ErrRegistryFault
	}

	return models.AuthorizationDecision{
		Allowed:        true,
		FieldAllowlist: svc.AllowedFields,
		WhereClause:    client.WhereLock(alias),
		Service:        svc,
	}, nil
}

// VisibleAliases lists the registered aliases a key may access, for the
// service discovery endpoint.
func (e *Engine) VisibleAliases(clientKey string) ([]string, error) {
	client, err := e.store.GetClient(clientKey)
	if err != nil {
		return nil, err
	}
	if client.Disabled {
		return nil, registry.ErrNotFound
	}

	services, err := e.store.ListServices()
	if err != nil {
		return nil, errors.Wrap(err, "service listing failed")
	}

	aliases := make([]string, 0, len(client.GrantedAliases))
	for _, svc := range services {
		if client.HasGrant(svc.Alias) {
			aliases = append(aliases, svc.Alias)
		}
	}
	return aliases, nil
}
