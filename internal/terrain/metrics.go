package terrain

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics метрики сервиса террейна
type Metrics struct {
	edits         prometheus.Counter
	blocksBuilt   prometheus.Counter
	triangles     prometheus.Counter
	sectorsLoaded prometheus.Counter
	sectorsFreed  prometheus.Counter
	restored      prometheus.Counter
	persistErrors prometheus.Counter
	tickDuration  prometheus.Histogram
	sectors       prometheus.Gauge
	memory        prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		edits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "voxel_edits_total",
			Help:      "Количество изменённых вокселей",
		}),
		blocksBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "blocks_built_total",
			Help:      "Количество перестроенных блоков",
		}),
		triangles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "mesh_triangles_total",
			Help:      "Треугольников в построенных мешах",
		}),
		sectorsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "sectors_loaded_total",
			Help:      "Загружено секторов",
		}),
		sectorsFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "sectors_freed_total",
			Help:      "Выгружено секторов",
		}),
		restored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "blocks_restored_total",
			Help:      "Блоков восстановлено из кеша или хранилища",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "persist_errors_total",
			Help:      "Ошибки сохранения секторов",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "terrain",
			Name:      "tick_duration_seconds",
			Help:      "Длительность прохода обновления",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		sectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain",
			Name:      "sectors_active",
			Help:      "Загруженных секторов",
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain",
			Name:      "memory_bytes",
			Help:      "Память вокселей и материалов",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.edits, m.blocksBuilt, m.triangles, m.sectorsLoaded, m.sectorsFreed,
			m.restored, m.persistErrors, m.tickDuration, m.sectors, m.memory)
	}
	return m
}
