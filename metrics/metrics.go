package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fastdl4u/fastdl/catalog"
)

const namespace = "fastdl"

// Registry holds every collector of the bot; /metrics serves it.
var Registry = prometheus.NewRegistry()

var (
	Updates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_total",
		Help:      "Telegram updates received, by kind and outcome.",
	}, []string{"kind", "outcome"})

	Commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Commands and callbacks dispatched, by name.",
	}, []string{"command"})

	Deletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_deletions_total",
		Help:      "Scheduled message deletions, by result.",
	}, []string{"result"})

	Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Uploads to the file host, by result.",
	}, []string{"result"})

	Fetches = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Time spent downloading source media, by mode and result.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"mode", "result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Updates, Commands, Deletions, Uploads, Fetches,
	)
}

// WatchCatalog exports the record count of every category. Call it once
// per process.
func WatchCatalog(s *catalog.Store) {
	for _, c := range catalog.Categories {
		c := c
		Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "catalog_records",
			Help:        "Records in the catalog, by category.",
			ConstLabels: prometheus.Labels{"category": string(c)},
		}, func() float64 {
			return float64(s.Count(c))
		}))
	}
}

// Result maps an error to the label used by the counters above.
func Result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
