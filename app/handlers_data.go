package app

import (
	"net/http"

	"tilegate/config"
	"tilegate/gate"
	"tilegate/metrics"
	"tilegate/models"
	"tilegate/registry"
	"tilegate/upstream"

	"github.com/go-chi/chi"
	"github.com/lancer-kit/armory/api/render"
	"github.com/lancer-kit/noble"
	"github.com/rs/zerolog"
)

type handler struct {
	log    zerolog.Logger
	engine *gate.Engine
	up     *upstream.Client
	store  registry.Storage

	publicBase string
	adminKey   noble.Secret
}

// authorize runs the gate for one request and writes the failure
// response itself when the request may not proceed. Denials are always
// the same generic message, a specific reason would let callers probe
// which keys and aliases exist.
func (h handler) authorize(w http.ResponseWriter, r *http.Request, tilePath bool) (models.AuthorizationDecision, bool) {
	alias := chi.URLParam(r, "alias")

	decision, err := h.engine.Authorize(clientKey(r), alias)
	if err == gate.ErrRegistryFault {
		if tilePath {
			notFound(w)
		} else {
			render.ServerError(w)
		}
		return decision, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("alias", alias).Msg("authorization lookup failed")
		render.ServerError(w)
		return decision, false
	}

	if !decision.Allowed {
		render.Forbidden(w, accessDeniedMsg)
		return decision, false
	}

	return decision, true
}

func (h handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.authorize(w, r, false)
	if !ok {
		return
	}

	params, err := gate.ParseQueryParams(r.URL.Query())
	if err != nil {
		render.BadRequest(w, err.Error())
		return
	}

	metrics.Inc(config.QueryRequests)

	set, err := h.up.QueryFeatures(r.Context(),
		decision.Service.FeatureQueryEndpoint, gate.BuildQuery(decision, params))
	if err != nil {
		h.renderUpstreamError(w, err)
		return
	}

	render.Success(w, gate.Sanitize(set, decision.FieldAllowlist))
}

func (h handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.authorize(w, r, false)
	if !ok {
		return
	}

	params, err := gate.ParseIdentifyParams(r.URL.Query())
	if err != nil {
		render.BadRequest(w, err.Error())
		return
	}

	metrics.Inc(config.IdentifyRequests)

	set, err := h.up.QueryFeatures(r.Context(),
		decision.Service.FeatureQueryEndpoint, gate.BuildIdentify(decision, params))
	if err != nil {
		h.renderUpstreamError(w, err)
		return
	}

	render.Success(w, gate.Sanitize(set, decision.FieldAllowlist))
}

func (h handler) handleListVisibleServices(w http.ResponseWriter, r *http.Request) {
	key := clientKey(r)
	if key == "" {
		render.Forbidden(w, accessDeniedMsg)
		return
	}

	aliases, err := h.engine.VisibleAliases(key)
	if err == registry.ErrNotFound {
		metrics.Inc(config.AuthDeniedRequests)
		render.Forbidden(w, accessDeniedMsg)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("service listing failed")
		render.ServerError(w)
		return
	}

	render.Success(w, map[string]interface{}{"services": aliases})
}

func (h handler) renderUpstreamError(w http.ResponseWriter, err error) {
	switch err {
	case upstream.ErrRejected:
		render.BadRequest(w, "query rejected by upstream")
	case upstream.ErrNotFound:
		notFound(w)
	default:
		metrics.Inc(config.UpstreamErrors)
		upstreamUnavailable(w)
	}
}
