package config

import (
	"tilegate/metrics"
)

const (
	AuthDeniedRequests  metrics.MKey = "auth_denied_requests"
	QueryRequests       metrics.MKey = "query_requests"
	IdentifyRequests    metrics.MKey = "identify_requests"
	StyleRequests       metrics.MKey = "style_requests"
	TileRequests        metrics.MKey = "tile_requests"
	TokenExchanges      metrics.MKey = "token_exchanges"
	UpstreamErrors      metrics.MKey = "upstream_errors"
	RegistryFaults      metrics.MKey = "registry_faults"
	AdminMutations      metrics.MKey = "admin_mutations"
	AdminDeniedRequests metrics.MKey = "admin_denied_requests"
)

func registerAllKeys() {
	metrics.RegisterCounters(
		AuthDeniedRequests,
		QueryRequests,
		IdentifyRequests,
		StyleRequests,
		TileRequests,
		TokenExchanges,
		UpstreamErrors,
		RegistryFaults,
		AdminMutations,
		AdminDeniedRequests,
	)
}
