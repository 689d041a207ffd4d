package config

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/lancer-kit/noble"
)

const (
	StorageTypeFile   = "file"
	StorageTypeNutsDB = "nutsdb"
	StorageTypeRedis  = "redis"
)

type RegistryCfg struct {
	Type   string    `json:"type" yaml:"type"`
	File   FileCfg   `json:"file" yaml:"file"`
	NutsDB NutsDBCfg `json:"nutsdb" yaml:"nutsdb"`
	Redis  RedisConf `json:"redis" yaml:"redis"`
}

func (cfg RegistryCfg) Validate() error {
	validators := []*validation.FieldRules{
		validation.Field(&cfg.Type, validation.Required,
			validation.In(StorageTypeFile, StorageTypeNutsDB, StorageTypeRedis)),
	}

	switch cfg.Type {
	case StorageTypeFile:
		validators = append(validators, validation.Field(&cfg.File, validation.Required))
	case StorageTypeNutsDB:
		validators = append(validators, validation.Field(&cfg.NutsDB, validation.Required))
	case StorageTypeRedis:
		validators = append(validators, validation.Field(&cfg.Redis, validation.Required))
	}
	return validation.ValidateStruct(&cfg, validators...)
}

// FileCfg is the reference deployment form: two JSON documents on disk.
type FileCfg struct {
	ServicesPath string `json:"services_path" yaml:"services_path"`
	ClientsPath  string `json:"clients_path" yaml:"clients_path"`
}

func (cfg FileCfg) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.ServicesPath, validation.Required),
		validation.Field(&cfg.ClientsPath, validation.Required),
	)
}

type NutsDBCfg struct {
	Path        string `json:"path" yaml:"path"`
	SegmentSize int64  `json:"segment_size" yaml:"segment_size"`
}

func (cfg NutsDBCfg) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Path, validation.Required),
	)
}

type RedisConf struct {
	MaxIdleConn   int          `json:"max_idle" yaml:"max_idle"`
	MaxActiveConn int          `json:"max_active" yaml:"max_active"`
	IdleTimeout   int64        `json:"idle_timeout" yaml:"idle_timeout"`
	PingInterval  int64        `json:"ping_interval" yaml:"ping_interval"`
	Password      noble.Secret `json:"auth" yaml:"auth"`
	Host          string       `json:"host" yaml:"host"`
}

func (cfg RedisConf) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.PingInterval, validation.Required),
		validation.Field(&cfg.Host, validation.Required),
	)
}

func (cfg RedisConf) URL() string {
	pass := ""
	if cfg.Password.Get() != "" {
		pass = ":" + cfg.Password.Get() + "@"
	}

	return fmt.Sprintf("redis://%s%s", pass, cfg.Host)
}
