package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Separator = "." //nolint:gochecknoglobals

type MKey string

func NewMKey(parts ...string) MKey {
	return MKey(strings.Join(parts, Separator))
}

type MonitoringConf struct {
	Metrics bool `json:"metrics" yaml:"metrics"`
}

//nolint:gochecknoglobals
var (
	mutex     sync.RWMutex
	namespace string
	counters  map[MKey]prometheus.Counter
)

type CollectorOpts struct {
	Namespace string
}

// Init enables metric collection. Before Init every Inc is a no-op,
// so disabled monitoring costs nothing at call sites.
func Init(opts CollectorOpts) {
	mutex.Lock()
	defer mutex.Unlock()

	namespace = opts.Namespace
	counters = make(map[MKey]prometheus.Counter)
}

func RegisterCounters(keys ...MKey) {
	mutex.Lock()
	defer mutex.Unlock()

	if counters == nil {
		return
	}

	for _, key := range keys {
		if _, ok := counters[key]; ok {
			continue
		}

		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      string(key),
		})
		prometheus.MustRegister(c)
		counters[key] = c
	}
}

func Inc(key MKey) {
	mutex.RLock()
	defer mutex.RUnlock()

	if c, ok := counters[key]; ok {
		c.Inc()
	}
}

func GetMonitoringMux(cfg MonitoringConf) http.Handler {
	r := chi.NewRouter()
	if cfg.Metrics {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}
	return r
}
