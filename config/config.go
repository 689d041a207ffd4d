package config

import (
	"io/ioutil"

	"tilegate/log"
	"tilegate/metrics"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/lancer-kit/armory/tools"
	"github.com/lancer-kit/noble"
	"github.com/lancer-kit/uwe/v2/presets/api"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	ServiceName = "tilegate"
)

// App is filled by the linker at build time and rendered on /info.
//nolint:gochecknoglobals
var App = AppInfo{Name: ServiceName}

type AppInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
}

// Cfg main structure of the app configuration.
type Cfg struct {
	Log      log.Config  `json:"log" yaml:"log"`
	API      api.Config  `json:"api" yaml:"api"`
	Upstream UpstreamCfg `json:"upstream" yaml:"upstream"`
	Registry RegistryCfg `json:"registry" yaml:"registry"`

	// PublicBase is the externally visible base URL of this proxy,
	// substituted into rewritten style documents.
	PublicBase tools.URL `json:"public_base" yaml:"public_base"`

	// AdminKey guards the /admin surface. Empty disables it entirely.
	AdminKey noble.Secret `json:"admin_key" yaml:"admin_key"`

	Monitoring metrics.MonitoringConf `json:"monitoring" yaml:"monitoring"`
}

func (cfg Cfg) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Log, validation.Required),
		validation.Field(&cfg.API, validation.Required),
		validation.Field(&cfg.Upstream, validation.Required),
		validation.Field(&cfg.Registry, validation.Required),
		validation.Field(&cfg.PublicBase, validation.Required),
	)
}

func ReadConfig(path string) (Cfg, error) {
	rawConfig, err := ioutil.ReadFile(path)
	if err != nil {
		return Cfg{}, errors.Wrap(err, "unable to read config file")
	}

	config := new(Cfg)
	err = yaml.Unmarshal(rawConfig, config)
	if err != nil {
		return Cfg{}, errors.Wrap(err, "unable to unmarshal config file")
	}

	err = config.Validate()
	if err != nil {
		return Cfg{}, errors.Wrap(err, "invalid configuration")
	}

	if config.Monitoring.Metrics {
		metrics.Init(metrics.CollectorOpts{Namespace: ServiceName})
		registerAllKeys()
	}

	return *config, nil
}
