package registry

import (
	"encoding/json"

	"tilegate/config"
	"tilegate/models"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

const (
	commandGet  = "GET"
	commandSet  = "SET"
	commandKeys = "KEYS"
	commandPing = "PING"
	replyPong   = "PONG"

	servicePrefix = "svc:"
	clientPrefix  = "cli:"
)

type RedisStorage struct {
	cfg  config.RedisConf
	pool *redis.Pool
}

func NewRedisStorage(cfg config.RedisConf) (*RedisStorage, error) {
	pool := NewPool(cfg)
	if _, err := pool.Dial(); err != nil {
		return nil, errors.Wrap(err, "invalid redis configuration url")
	}

	return &RedisStorage{cfg: cfg, pool: pool}, nil
}

func (s *RedisStorage) CheckConn() error {
	conn := s.pool.Get()
	defer conn.Close()

	reply, err := redis.String(conn.Do(commandPing))
	if err != nil {
		return errors.Wrap(err, "connection failed")
	}

	if reply != replyPong {
		return errors.New("failed to receive ping response from redis")
	}

	return nil
}

func (s *RedisStorage) CloseConnection() error {
	return s.pool.Close()
}

func (s *RedisStorage) getRaw(key string) ([]byte, error) {
	conn := s.pool.Get()
	defer conn.Close()

	raw, err := redis.Bytes(conn.Do(commandGet, key))
	if err == redis.ErrNil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to perform %s command", commandGet)
	}

	return raw, nil
}

func (s *RedisStorage) putRaw(key string, value []byte) error {
	conn := s.pool.Get()
	defer conn.Close()

	if _, err := conn.Do(commandSet, key, value); err != nil {
		return errors.Wrapf(err, "failed to perform %s command", commandSet)
	}
	return nil
}

func (s *RedisStorage) listRaw(prefix string) ([][]byte, error) {
	conn := s.pool.Get()
	defer conn.Close()

	keys, err := redis.Strings(conn.Do(commandKeys, prefix+"*"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list keys")
	}

	list := make([][]byte, 0, len(keys))
	for _, key := range keys {
		raw, err := redis.Bytes(conn.Do(commandGet, key))
		if err == redis.ErrNil {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to perform %s command", commandGet)
		}
		list = append(list, raw)
	}
	return list, nil
}

func (s *RedisStorage) GetService(alias string) (*models.ServiceDescriptor, error) {
	raw, err := s.getRaw(servicePrefix + alias)
	if err != nil {
		return nil, err
	}

	svc := new(models.ServiceDescriptor)
	if err = json.Unmarshal(raw, svc); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal service descriptor")
	}
	return svc, nil
}

func (s *RedisStorage) GetClient(key string) (*models.ClientDescriptor, error) {
	raw, err := s.getRaw(clientPrefix + key)
	if err != nil {
		return nil, err
	}

	client := new(models.ClientDescriptor)
	if err = json.Unmarshal(raw, client); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal client descriptor")
	}
	return client, nil
}

func (s *RedisStorage) ListServices() ([]models.ServiceDescriptor, error) {
	rawList, err := s.listRaw(servicePrefix)
	if err != nil {
		return nil, err
	}

	list := make([]models.ServiceDescriptor, 0, len(rawList))
	for _, raw := range rawList {
		var svc models.ServiceDescriptor
		if err = json.Unmarshal(raw, &svc); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal service descriptor")
		}
		list = append(list, svc)
	}
	return list, nil
}

func (s *RedisStorage) ListClients() ([]models.ClientDescriptor, error) {
	rawList, err := s.listRaw(clientPrefix)
	if err != nil {
		return nil, err
	}

	list := make([]models.ClientDescriptor, 0, len(rawList))
	for _, raw := range rawList {
		var client models.ClientDescriptor
		if err = json.Unmarshal(raw, &client); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal client descriptor")
		}
		list = append(list, client)
	}
	return list, nil
}

func (s *RedisStorage) PutService(svc models.ServiceDescriptor) error {
	if err := svc.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(svc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal service descriptor")
	}
	return s.putRaw(servicePrefix+svc.Alias, raw)
}

func (s *RedisStorage) PutClient(client models.ClientDescriptor) error {
	if err := client.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(client)
	if err != nil {
		return errors.Wrap(err, "failed to marshal client descriptor")
	}
	return s.putRaw(clientPrefix+client.Key, raw)
}
