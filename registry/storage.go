package registry

import (
	"tilegate/config"
	"tilegate/models"

	"github.com/pkg/errors"
)

const (
	ServicesBucket = "services"
	ClientsBucket  = "clients"
)

// ErrNotFound is returned when an alias or client key has no entry.
// Handlers must collapse it into the generic access-denied response.
var ErrNotFound = errors.New("registry: entry not found")

// Storage is the durable registry behind the authorization engine:
// alias -> service descriptor, client key -> client descriptor.
// Descriptors are validated before they are stored and a Put fully
// replaces the previous entry or fails, never a partial write.
type Storage interface {
	CheckConn() error
	CloseConnection() error

	GetService(alias string) (*models.ServiceDescriptor, error)
	GetClient(key string) (*models.ClientDescriptor, error)
	ListServices() ([]models.ServiceDescriptor, error)
	ListClients() ([]models.ClientDescriptor, error)

	PutService(svc models.ServiceDescriptor) error
	PutClient(client models.ClientDescriptor) error
}

func NewStorage(cfg config.RegistryCfg) (Storage, error) {
	switch cfg.Type {
	case config.StorageTypeNutsDB:
		nuts, err := NewNutsDBStorage(cfg.NutsDB)
		if err != nil {
			return nil, errors.Wrap(err, "nutsdb init storage err")
		}
		return nuts, nil
	case config.StorageTypeRedis:
		redis, err := NewRedisStorage(cfg.Redis)
		if err != nil {
			return nil, errors.Wrap(err, "redis init storage err")
		}
		return redis, nil
	default:
		file, err := NewFileStorage(cfg.File)
		if err != nil {
			return nil, errors.Wrap(err, "file init storage err")
		}
		return file, nil
	}
}
