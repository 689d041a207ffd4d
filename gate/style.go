package gate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// RewriteStyle points every resource reference inside an upstream style
// document back at this proxy, carrying the client key as the query
// credential. Tile source lists, sprite and glyph URLs are all replaced
// so no direct upstream reference leaks to the client. The rewrite is
// idempotent: targets are overwritten with deterministic proxy URLs, so
// re-rewriting an already-rewritten document is a no-op.
func RewriteStyle(raw []byte, publicBase, alias, clientKey string) ([]byte, error) {
	style := make(map[string]interface{})
	if err := json.Unmarshal(raw, &style); err != nil {
		return nil, errors.Wrap(err, "malformed style document")
	}

	base := strings.TrimRight(publicBase, "/")
	keyQ := url.QueryEscape(clientKey)

	if sources, ok := style["sources"].(map[string]interface{}); ok {
		for _, rawSrc := range sources {
			src, ok := rawSrc.(map[string]interface{})
			if !ok {
				continue
			}
			if tiles, ok := src["tiles"].([]interface{}); ok && len(tiles) > 0 {
				src["tiles"] = []interface{}{
					fmt.Sprintf("%s/tiles/%s/tile/{z}/{y}/{x}.pbf?key=%s", base, alias, keyQ),
				}
			}
		}
	}

	if _, ok := style["sprite"]; ok {
		style["sprite"] = fmt.Sprintf("%s/tiles/%s/sprite?key=%s", base, alias, keyQ)
	}
	if _, ok := style["glyphs"]; ok {
		style["glyphs"] = fmt.Sprintf("%s/tiles/%s/fonts/{fontstack}/{range}.pbf?key=%s", base, alias, keyQ)
	}

	rewritten, err := json.Marshal(style)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal style document")
	}
	return rewritten, nil
}
