package app

import (
	"tilegate/config"
	"tilegate/gate"
	"tilegate/metrics"
	"tilegate/registry"
	"tilegate/upstream"

	"github.com/lancer-kit/uwe/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	WorkerAPIServer = "api_server"
)

func InitChief(logger zerolog.Logger, cfg config.Cfg) (uwe.Chief, error) {
	logger = logger.With().Str("app_layer", "workers").Logger()

	chief := uwe.NewChief()
	chief.UseDefaultRecover()
	chief.SetEventHandler(func(event uwe.Event) {
		var level zerolog.Level
		switch event.Level {
		case uwe.LvlFatal, uwe.LvlError:
			level = zerolog.ErrorLevel
		case uwe.LvlInfo:
			level = zerolog.InfoLevel
		default:
			level = zerolog.WarnLevel
		}

		logger.WithLevel(level).Fields(event.Fields).Msg(event.Message)
	})

	store, err := registry.NewStorage(cfg.Registry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init registry storage")
	}

	session := upstream.NewSession(
		logger.With().Str("app_layer", "upstream_session").Logger(), cfg.Upstream)
	session.SetExchangeHook(func() { metrics.Inc(config.TokenExchanges) })

	upClient := upstream.NewClient(
		logger.With().Str("app_layer", "upstream_client").Logger(), cfg.Upstream, session)

	engine := gate.NewEngine(
		logger.With().Str("app_layer", "gate").Logger(), store)

	webServer := GetServer(
		logger.With().Str("worker", WorkerAPIServer).Logger(),
		cfg, engine, upClient, store,
	)

	chief.AddWorker(WorkerAPIServer, webServer)

	return chief, nil
}
