package registry

import (
	"encoding/json"

	"tilegate/config"
	"tilegate/models"

	"github.com/pkg/errors"
	"github.com/xujiajun/nutsdb"
)

type NutsDBStorage struct {
	cfg  config.NutsDBCfg
	conn *nutsdb.DB
}

func NewNutsDBStorage(cfg config.NutsDBCfg) (*NutsDBStorage, error) {
	options := nutsdb.Options{
		Dir:                  cfg.Path,
		SegmentSize:          cfg.SegmentSize,
		SyncEnable:           true,
		StartFileLoadingMode: 0,
	}
	conn, err := nutsdb.Open(options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize the nutsdb store")
	}

	return &NutsDBStorage{conn: conn, cfg: cfg}, nil
}

func (b *NutsDBStorage) CheckConn() error {
	return b.conn.View(func(tx *nutsdb.Tx) error { return nil })
}

func (b *NutsDBStorage) CloseConnection() error {
	return b.conn.Close()
}

func (b *NutsDBStorage) getRaw(bucket string, key []byte) ([]byte, error) {
	var value []byte

	err := b.conn.View(func(tx *nutsdb.Tx) error {
		entry, err := tx.Get(bucket, key)
		if err != nil {
			return err
		}
		value = entry.Value
		return nil
	})
	if err != nil {
		if isNutsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get the data by key")
	}

	return value, nil
}

func isNutsNotFound(err error) bool {
	switch errors.Cause(err) {
	case nutsdb.ErrBucketNotFound, nutsdb.ErrBucketEmpty,
		nutsdb.ErrKeyNotFound, nutsdb.ErrNotFoundKey:
		return true
	}
	return false
}

func (b *NutsDBStorage) putRaw(bucket string, key, value []byte) error {
	return b.conn.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, key, value, 0)
	})
}

func (b *NutsDBStorage) GetService(alias string) (*models.ServiceDescriptor, error) {
	raw, err := b.getRaw(ServicesBucket, []byte(alias))
	if err != nil {
		return nil, err
	}

	svc := new(models.ServiceDescriptor)
	if err = json.Unmarshal(raw, svc); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal service descriptor")
	}
	return svc, nil
}

func (b *NutsDBStorage) GetClient(key string) (*models.ClientDescriptor, error) {
	raw, err := b.getRaw(ClientsBucket, []byte(key))
	if err != nil {
		return nil, err
	}

	client := new(models.ClientDescriptor)
	if err = json.Unmarshal(raw, client); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal client descriptor")
	}
	return client, nil
}

func (b *NutsDBStorage) ListServices() ([]models.ServiceDescriptor, error) {
	var list []models.ServiceDescriptor

	err := b.conn.View(func(tx *nutsdb.Tx) error {
		entries, err := tx.GetAll(ServicesBucket)
		if err != nil {
			if isNutsNotFound(err) {
				return nil
			}
			return err
		}

		for _, entry := range entries {
			var svc models.ServiceDescriptor
			if err = json.Unmarshal(entry.Value, &svc); err != nil {
				return errors.Wrap(err, "failed to unmarshal service descriptor")
			}
			list = append(list, svc)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list services")
	}

	return list, nil
}

func (b *NutsDBStorage) ListClients() ([]models.ClientDescriptor, error) {
	var list []models.ClientDescriptor

	err := b.conn.View(func(tx *nutsdb.Tx) error {
		entries, err := tx.GetAll(ClientsBucket)
		if err != nil {
			if isNutsNotFound(err) {
				return nil
			}
			return err
		}

		for _, entry := range entries {
			var client models.ClientDescriptor
			if err = json.Unmarshal(entry.Value, &client); err != nil {
				return errors.Wrap(err, "failed to unmarshal client descriptor")
			}
			list = append(list, client)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list clients")
	}

	return list, nil
}

func (b *NutsDBStorage) PutService(svc models.ServiceDescriptor) error {
	if err := svc.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(svc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal service descriptor")
	}
	return b.putRaw(ServicesBucket, []byte(svc.Alias), raw)
}

func (b *NutsDBStorage) PutClient(client models.ClientDescriptor) error {
	if err := client.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(client)
	if err != nil {
		return errors.Wrap(err, "failed to marshal client descriptor")
	}
	return b.putRaw(ClientsBucket, []byte(client.Key), raw)
}
