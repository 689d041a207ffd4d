package gate

import (
	"encoding/json"
	"testing"

	"tilegate/models"

	"github.com/stretchr/testify/require"
)

func TestSanitizeDropsGeometryAndDisallowedFields(t *testing.T) {
	raw := []byte(`{
		"features": [
			{
				"attributes": {"STATE_NAME": "Kwara", "POP_TOTAL": 3192893, "INTERNAL_ID": 42},
				"geometry": {"rings": [[[4.5, 8.4], [4.6, 8.4], [4.6, 8.5]]]}
			},
			{
				"attributes": {"STATE_NAME": "Oyo", "POP_TOTAL": 5580894}
			}
		]
	}`)

	set := new(models.FeatureSet)
	require.NoError(t, json.Unmarshal(raw, set))

	env := Sanitize(set, []string{"STATE_NAME", "POP_TOTAL"})
	require.Equal(t, 2, env.Count)
	require.Len(t, env.Results, 2)

	// Order preserved.
	require.Equal(t, "Kwara", env.Results[0].Attributes["STATE_NAME"])
	require.Equal(t, "Oyo", env.Results[1].Attributes["STATE_NAME"])

	// Nothing outside the allowlist, and no geometry key anywhere.
	for _, entry := range env.Results {
		require.NotContains(t, entry.Attributes, "INTERNAL_ID")
		require.NotContains(t, entry.Attributes, "geometry")
		for key := range entry.Attributes {
			require.Contains(t, []string{"STATE_NAME", "POP_TOTAL"}, key)
		}
	}

	// The envelope serialization must not resurrect geometry either.
	out, err := json.Marshal(env)
	require.NoError(t, err)
	require.NotContains(t, string(out), "geometry")
	require.NotContains(t, string(out), "rings")
}

func TestSanitizeEmptyFeatureSet(t *testing.T) {
	env := Sanitize(&models.FeatureSet{}, []string{"STATE_NAME"})
	require.Equal(t, 0, env.Count)
	require.NotNil(t, env.Results)
	require.Len(t, env.Results, 0)

	out, err := json.Marshal(env)
	require.NoError(t, err)
	require.JSONEq(t, `{"count": 0, "results": []}`, string(out))
}
