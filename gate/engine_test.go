package gate

import (
	"path/filepath"
	"testing"

	"tilegate/config"
	"tilegate/models"
	"tilegate/registry"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) registry.Storage {
	dir := t.TempDir()
	store, err := registry.NewFileStorage(config.FileCfg{
		ServicesPath: filepath.Join(dir, "services.json"),
		ClientsPath:  filepath.Join(dir, "clients.json"),
	})
	require.NoError(t, err)
	return store
}

func seedFrameService(t *testing.T, store registry.Storage) {
	require.NoError(t, store.PutService(models.ServiceDescriptor{
		Alias:                "frame_v1",
		FeatureQueryEndpoint: "https://upstream.example/FeatureServer/0/query",
		TileBaseEndpoint:     "https://upstream.example/VectorTileServer",
		AllowedFields:        []string{"STATE_NAME", "POP_TOTAL"},
	}))
}

func TestEngineAuthorize(t *testing.T) {
	store := newTestStore(t)
	seedFrameService(t, store)

	require.NoError(t, store.PutClient(models.ClientDescriptor{
		Key:            "CK_valid",
		DisplayName:    "kwara dashboard",
		GrantedAliases: []string{"frame_v1"},
		WhereLocks:     map[string]string{"frame_v1": "STATE_NAME='Kwara'"},
	}))
	require.NoError(t, store.PutClient(models.ClientDescriptor{
		Key:            "CK_disabled",
		DisplayName:    "revoked consumer",
		GrantedAliases: []string{"frame_v1"},
		Disabled:       true,
	}))

	engine := NewEngine(zerolog.Nop(), store)

	t.Run("granted alias is allowed with lock and allowlist", func(t *testing.T) {
		decision, err := engine.Authorize("CK_valid", "frame_v1")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		require.Equal(t, []string{"STATE_NAME", "POP_TOTAL"}, decision.FieldAllowlist)
		require.Equal(t, "STATE_NAME='Kwara'", decision.WhereClause)
		require.NotNil(t, decision.Service)
	})

	t.Run("unknown key is denied", func(t *testing.T) {
		decision, err := engine.Authorize("CK_nope", "frame_v1")
		require.NoError(t, err)
		require.False(t, decision.Allowed)
	})

	t.Run("empty key is denied", func(t *testing.T) {
		decision, err := engine.Authorize("", "frame_v1")
		require.NoError(t, err)
		require.False(t, decision.Allowed)
	})

	t.Run("disabled key is denied regardless of grants", func(t *testing.T) {
		decision, err := engine.Authorize("CK_disabled", "frame_v1")
		require.NoError(t, err)
		require.False(t, decision.Allowed)
	})

	t.Run("ungranted alias is denied", func(t *testing.T) {
		decision, err := engine.Authorize("CK_valid", "other_v1")
		require.NoError(t, err)
		require.False(t, decision.Allowed)
	})
}

func TestEngineAuthorizeRegistryFault(t *testing.T) {
	store := newTestStore(t)

	// A grant referencing an alias with no service descriptor is a
	// server-side fault, not a client denial.
	require.NoError(t, store.PutClient(models.ClientDescriptor{
		Key:            "CK_orphan",
		DisplayName:    "orphan grant",
		GrantedAliases: []string{"gone_v1"},
	}))

	engine := NewEngine(zerolog.Nop(), store)

	_, err := engine.Authorize("CK_orphan", "gone_v1")
	require.Equal(t, ErrRegistryFault, err)
}

func TestEngineVisibleAliases(t *testing.T) {
	store := newTestStore(t)
	seedFrameService(t, store)
	require.NoError(t, store.PutService(models.ServiceDescriptor{
		Alias:                "other_v1",
		FeatureQueryEndpoint: "https://upstream.example/FeatureServer/1/query",
		TileBaseEndpoint:     "https://upstream.example/OtherTiles",
		AllowedFields:        []string{"NAME"},
	}))

	require.NoError(t, store.PutClient(models.ClientDescriptor{
		Key:            "CK_narrow",
		DisplayName:    "single dataset consumer",
		GrantedAliases: []string{"frame_v1"},
	}))

	engine := NewEngine(zerolog.Nop(), store)

	aliases, err := engine.VisibleAliases("CK_narrow")
	require.NoError(t, err)
	require.Equal(t, []string{"frame_v1"}, aliases)

	_, err = engine.VisibleAliases("CK_unknown")
	require.Equal(t, registry.ErrNotFound, err)
}
