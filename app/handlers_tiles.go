package app

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tilegate/config"
	"tilegate/gate"
	"tilegate/metrics"

	"github.com/go-chi/chi"
	"github.com/lancer-kit/armory/api/render"
)

const pbfContentType = "application/x-protobuf"

func (h handler) handleStyle(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.authorize(w, r, true)
	if !ok {
		return
	}
	alias := chi.URLParam(r, "alias")

	metrics.Inc(config.StyleRequests)

	styleURL := tileResource(decision.Service.TileBaseEndpoint, "/resources/styles/root.json")
	res, err := h.up.Fetch(r.Context(), styleURL, url.Values{"f": []string{"json"}})
	if err != nil {
		h.renderUpstreamError(w, err)
		return
	}
	defer res.Body.Close()

	raw, err := ioutil.ReadAll(res.Body)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read style document")
		upstreamUnavailable(w)
		return
	}

	rewritten, err := gate.RewriteStyle(raw, h.publicBase, alias, clientKey(r))
	if err != nil {
		h.log.Error().Err(err).Str("alias", alias).Msg("failed to rewrite style document")
		upstreamUnavailable(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(rewritten)
}

func (h handler) handleTile(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.authorize(w, r, true)
	if !ok {
		return
	}

	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	if errZ != nil || errY != nil || errX != nil || z < 0 || y < 0 || x < 0 {
		render.BadRequest(w, "invalid tile coordinates")
		return
	}

	metrics.Inc(config.TileRequests)

	tileURL := tileResource(decision.Service.TileBaseEndpoint,
		fmt.Sprintf("/tile/%d/%d/%d.pbf", z, y, x))
	h.streamResource(w, r, tileURL, pbfContentType)
}

func (h handler) handleSprite(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision, ok := h.authorize(w, r, true)
		if !ok {
			return
		}

		spriteURL := tileResource(decision.Service.TileBaseEndpoint, "/resources/sprites/"+name)
		h.streamResource(w, r, spriteURL, "")
	}
}

func (h handler) handleFonts(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.authorize(w, r, true)
	if !ok {
		return
	}

	fontstack := url.PathEscape(chi.URLParam(r, "fontstack"))
	glyphRange := url.PathEscape(chi.URLParam(r, "range"))

	fontsURL := tileResource(decision.Service.TileBaseEndpoint,
		fmt.Sprintf("/resources/fonts/%s/%s.pbf", fontstack, glyphRange))
	h.streamResource(w, r, fontsURL, pbfContentType)
}

// streamResource pipes an upstream payload to the client verbatim. The
// fetch runs under the request context, so a client disconnect cancels
// the upstream transfer instead of completing it for nobody.
func (h handler) streamResource(w http.ResponseWriter, r *http.Request, rawurl, contentType string) {
	res, err := h.up.Fetch(r.Context(), rawurl, nil)
	if err != nil {
		h.renderUpstreamError(w, err)
		return
	}
	defer res.Body.Close()

	if contentType == "" {
		contentType = res.ContentType
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	if _, err = io.Copy(w, res.Body); err != nil {
		// Too late for a status change, the client likely went away.
		h.log.Debug().Err(err).Msg("resource stream interrupted")
	}
}

func tileResource(base, suffix string) string {
	return strings.TrimRight(base, "/") + suffix
}
