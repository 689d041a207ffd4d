package app

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"tilegate/config"
	"tilegate/metrics"
	"tilegate/models"
	"tilegate/registry"

	"github.com/lancer-kit/armory/api/render"
	"github.com/pkg/errors"
)

const clientKeyPrefix = "CK_"

// requireAdmin fails closed: no configured admin key disables the whole
// surface, and only an exact match on the presented secret passes.
func (h handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configured := h.adminKey.Get()
		if configured == "" {
			metrics.Inc(config.AdminDeniedRequests)
			render.Forbidden(w, accessDeniedMsg)
			return
		}

		provided := r.Header.Get("X-Admin-Key")
		if provided == "" {
			provided = r.URL.Query().Get("admin_key")
		}

		if provided != configured {
			metrics.Inc(config.AdminDeniedRequests)
			render.Forbidden(w, accessDeniedMsg)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h handler) handleAdminListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.ListServices()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list services")
		render.ServerError(w)
		return
	}

	render.Success(w, map[string]interface{}{"services": services})
}

func (h handler) handleAdminRegisterService(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	fields := splitCSV(q.Get("allowed_out_fields"))
	if len(fields) == 0 {
		render.BadRequest(w, "allowed_out_fields cannot be empty")
		return
	}

	svc := models.ServiceDescriptor{
		Alias:                q.Get("alias"),
		FeatureQueryEndpoint: q.Get("feature_layer_query_url"),
		TileBaseEndpoint:     q.Get("vector_tile_base"),
		AllowedFields:        fields,
	}
	if err := svc.Validate(); err != nil {
		render.BadRequest(w, err.Error())
		return
	}

	if err := h.store.PutService(svc); err != nil {
		h.log.Error().Err(err).Msg("registry write failed")
		render.ServerError(w)
		return
	}

	metrics.Inc(config.AdminMutations)
	h.log.Info().Str("alias", svc.Alias).Int("fields", len(fields)).Msg("service registered")
	render.Success(w, map[string]interface{}{
		"ok":           true,
		"alias":        svc.Alias,
		"fields_count": len(fields),
	})
}

func (h handler) handleAdminListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.ListClients()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list clients")
		render.ServerError(w)
		return
	}

	render.Success(w, map[string]interface{}{"clients": clients})
}

func (h handler) handleAdminCreateClient(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	name := q.Get("name")
	if name == "" {
		render.BadRequest(w, "name cannot be empty")
		return
	}

	disabled := false
	if raw := q.Get("disabled"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			render.BadRequest(w, "invalid parameter: disabled")
			return
		}
		disabled = parsed
	}

	key, err := h.newClientKey()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to generate client key")
		render.ServerError(w)
		return
	}

	client := models.ClientDescriptor{
		Key:            key,
		DisplayName:    name,
		GrantedAliases: splitCSV(q.Get("services")),
		Disabled:       disabled,
		WhereLocks:     map[string]string{},
	}
	if err = client.Validate(); err != nil {
		render.BadRequest(w, err.Error())
		return
	}

	if err = h.store.PutClient(client); err != nil {
		h.log.Error().Err(err).Msg("registry write failed")
		render.ServerError(w)
		return
	}

	metrics.Inc(config.AdminMutations)
	h.log.Info().Str("client", name).Msg("client key created")
	render.Success(w, map[string]interface{}{
		"ok":         true,
		"client_key": key,
		"name":       name,
		"services":   client.GrantedAliases,
	})
}

func (h handler) handleAdminDisableClient(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	disabled := true
	if raw := q.Get("disabled"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			render.BadRequest(w, "invalid parameter: disabled")
			return
		}
		disabled = parsed
	}

	client, err := h.store.GetClient(q.Get("client_key"))
	if err == registry.ErrNotFound {
		notFound(w)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("client lookup failed")
		render.ServerError(w)
		return
	}

	client.Disabled = disabled
	if err = h.store.PutClient(*client); err != nil {
		h.log.Error().Err(err).Msg("registry write failed")
		render.ServerError(w)
		return
	}

	metrics.Inc(config.AdminMutations)
	h.log.Info().Str("client", client.DisplayName).Bool("disabled", disabled).Msg("client key toggled")
	render.Success(w, map[string]interface{}{
		"ok":         true,
		"client_key": client.Key,
		"disabled":   disabled,
	})
}

func (h handler) handleAdminSetWhereLock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	alias := q.Get("alias")
	if alias == "" {
		render.BadRequest(w, "alias cannot be empty")
		return
	}

	client, err := h.store.GetClient(q.Get("client_key"))
	if err == registry.ErrNotFound {
		notFound(w)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("client lookup failed")
		render.ServerError(w)
		return
	}

	if client.WhereLocks == nil {
		client.WhereLocks = map[string]string{}
	}

	// An empty where clears the lock; descriptor validation rejects
	// a lock on an ungranted alias.
	where := q.Get("where")
	if where == "" {
		delete(client.WhereLocks, alias)
	} else {
		client.WhereLocks[alias] = where
	}
	if err = client.Validate(); err != nil {
		render.BadRequest(w, err.Error())
		return
	}

	if err = h.store.PutClient(*client); err != nil {
		h.log.Error().Err(err).Msg("registry write failed")
		render.ServerError(w)
		return
	}

	metrics.Inc(config.AdminMutations)
	h.log.Info().Str("client", client.DisplayName).Str("alias", alias).Msg("where lock updated")
	render.Success(w, map[string]interface{}{
		"ok":         true,
		"client_key": client.Key,
		"alias":      alias,
		"where":      where,
	})
}

func splitCSV(raw string) []string {
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func (h handler) newClientKey() (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "failed to read random bytes")
		}
		key := clientKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)

		// Keys are never reused; on the vanishing chance of a
		// collision draw again rather than replace the holder.
		_, err := h.store.GetClient(key)
		if err == registry.ErrNotFound {
			return key, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("failed to generate a unique client key")
}
