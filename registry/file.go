package registry

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"tilegate/config"
	"tilegate/models"

	"github.com/pkg/errors"
)

// FileStorage is the reference deployment form: two JSON documents on
// disk, loaded whole and swapped atomically. Reads serve from the
// in-memory copy; every mutation rewrites the document through a
// tmp-write-rename so a crash never leaves a torn file.
type FileStorage struct {
	cfg config.FileCfg

	mutex    sync.RWMutex
	services map[string]models.ServiceDescriptor
	clients  map[string]models.ClientDescriptor
}

type servicesDoc struct {
	Services map[string]models.ServiceDescriptor `json:"services"`
}

type clientsDoc struct {
	Clients map[string]models.ClientDescriptor `json:"clients"`
}

func NewFileStorage(cfg config.FileCfg) (*FileStorage, error) {
	s := &FileStorage{
		cfg:      cfg,
		services: map[string]models.ServiceDescriptor{},
		clients:  map[string]models.ClientDescriptor{},
	}

	if err := s.loadServices(); err != nil {
		return nil, err
	}
	if err := s.loadClients(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStorage) loadServices() error {
	raw, err := ioutil.ReadFile(s.cfg.ServicesPath)
	if os.IsNotExist(err) {
		return s.writeServicesLocked()
	}
	if err != nil {
		return errors.Wrap(err, "failed to read services document")
	}

	doc := new(servicesDoc)
	if err = json.Unmarshal(raw, doc); err != nil {
		return errors.Wrap(err, "invalid services document")
	}

	for alias, svc := range doc.Services {
		svc.Alias = alias
		s.services[alias] = svc
	}
	return nil
}

func (s *FileStorage) loadClients() error {
	raw, err := ioutil.ReadFile(s.cfg.ClientsPath)
	if os.IsNotExist(err) {
		return s.writeClientsLocked()
	}
	if err != nil {
		return errors.Wrap(err, "failed to read clients document")
	}

	doc := new(clientsDoc)
	if err = json.Unmarshal(raw, doc); err != nil {
		return errors.Wrap(err, "invalid clients document")
	}

	for key, client := range doc.Clients {
		client.Key = key
		s.clients[key] = client
	}
	return nil
}

func (s *FileStorage) CheckConn() error {
	_, err := os.Stat(filepath.Dir(s.cfg.ServicesPath))
	return err
}

func (s *FileStorage) CloseConnection() error { return nil }

func (s *FileStorage) GetService(alias string) (*models.ServiceDescriptor, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	svc, ok := s.services[alias]
	if !ok {
		return nil, ErrNotFound
	}

	svc = cloneService(svc)
	return &svc, nil
}

func (s *FileStorage) GetClient(key string) (*models.ClientDescriptor, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	client, ok := s.clients[key]
	if !ok {
		return nil, ErrNotFound
	}

	client = cloneClient(client)
	return &client, nil
}

func (s *FileStorage) ListServices() ([]models.ServiceDescriptor, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	list := make([]models.ServiceDescriptor, 0, len(s.services))
	for _, svc := range s.services {
		list = append(list, cloneService(svc))
	}
	return list, nil
}

func (s *FileStorage) ListClients() ([]models.ClientDescriptor, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	list := make([]models.ClientDescriptor, 0, len(s.clients))
	for _, client := range s.clients {
		list = append(list, cloneClient(client))
	}
	return list, nil
}

func (s *FileStorage) PutService(svc models.ServiceDescriptor) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	svc = cloneService(svc)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	prev, existed := s.services[svc.Alias]
	s.services[svc.Alias] = svc

	if err := s.writeServicesLocked(); err != nil {
		if existed {
			s.services[svc.Alias] = prev
		} else {
			delete(s.services, svc.Alias)
		}
		return err
	}
	return nil
}

func (s *FileStorage) PutClient(client models.ClientDescriptor) error {
	if err := client.Validate(); err != nil {
		return err
	}
	client = cloneClient(client)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	prev, existed := s.clients[client.Key]
	s.clients[client.Key] = client

	if err := s.writeClientsLocked(); err != nil {
		if existed {
			s.clients[client.Key] = prev
		} else {
			delete(s.clients, client.Key)
		}
		return err
	}
	return nil
}

// cloneService and cloneClient detach a descriptor from the live maps.
// Reads hand out copies and writes store copies, so a caller mutating a
// descriptor it got or gave never aliases store-internal state.
func cloneService(svc models.ServiceDescriptor) models.ServiceDescriptor {
	svc.AllowedFields = append([]string(nil), svc.AllowedFields...)
	return svc
}

func cloneClient(client models.ClientDescriptor) models.ClientDescriptor {
	client.GrantedAliases = append([]string(nil), client.GrantedAliases...)
	if client.WhereLocks != nil {
		locks := make(map[string]string, len(client.WhereLocks))
		for alias, where := range client.WhereLocks {
			locks[alias] = where
		}
		client.WhereLocks = locks
	}
	return client
}

func (s *FileStorage) writeServicesLocked() error {
	return writeJSONAtomic(s.cfg.ServicesPath, servicesDoc{Services: s.services})
}

func (s *FileStorage) writeClientsLocked() error {
	return writeJSONAtomic(s.cfg.ClientsPath, clientsDoc{Clients: s.clients})
}

func writeJSONAtomic(path string, doc interface{}) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal registry document")
	}

	tmp := path + ".tmp"
	if err = ioutil.WriteFile(tmp, raw, 0600); err != nil {
		return errors.Wrap(err, "failed to write registry document")
	}

	if err = os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "failed to replace registry document")
	}
	return nil
}
