package gate

import (
	"tilegate/models"
)

// Sanitize strips geometry and any attribute outside the allowlist from
// an upstream feature set, defense in depth against upstream returning
// more than it was asked for. Record order is preserved; zero records is
// a valid empty envelope, not an error.
func Sanitize(set *models.FeatureSet, allowlist []string) models.Envelope {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, field := range allowlist {
		allowed[field] = struct{}{}
	}

	results := make([]models.EnvelopeEntry, 0, len(set.Features))
	for _, feature := range set.Features {
		attrs := make(map[string]interface{}, len(feature.Attributes))
		for key, value := range feature.Attributes {
			if _, ok := allowed[key]; ok {
				attrs[key] = value
			}
		}
		results = append(results, models.EnvelopeEntry{Attributes: attrs})
	}

	return models.Envelope{Count: len(results), Results: results}
}
