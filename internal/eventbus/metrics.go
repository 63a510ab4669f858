package eventbus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter раз в секунду переносит Stats шины в метрики
// terrain_eventbus_*; счётчики растут на разницу между опросами.
type MetricsExporter struct {
	bus      EventBus
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}

	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	backlog   prometheus.Gauge
}

// NewMetricsExporter регистрирует метрики шины узла nodeID в reg
func NewMetricsExporter(bus EventBus, reg prometheus.Registerer, nodeID string) *MetricsExporter {
	labels := prometheus.Labels{"node": nodeID}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "terrain",
			Subsystem:   "eventbus",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	me := &MetricsExporter{
		bus:       bus,
		interval:  time.Second,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		published: counter("events_published_total", "События загрузки и выгрузки секторов и блоков, отправленные в шину."),
		consumed:  counter("events_consumed_total", "События, доставленные подписчикам узла."),
		dropped:   counter("events_dropped_total", "События, потерянные из-за ошибок публикации или переполнения очереди подписчика."),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "terrain",
			Subsystem:   "eventbus",
			Name:        "events_backlog",
			Help:        "События в очередях подписчиков, ещё не обработанные.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(me.published, me.consumed, me.dropped, me.backlog)
	return me
}

// Start запускает опрос в отдельной горутине
func (m *MetricsExporter) Start() {
	go m.loop()
}

// Stop снимает последний срез и останавливает опрос
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
}

func (m *MetricsExporter) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var last Stats
	for {
		select {
		case <-ticker.C:
			last = m.collect(last)
		case <-m.quit:
			m.collect(last)
			return
		}
	}
}

func (m *MetricsExporter) collect(last Stats) Stats {
	cur := m.bus.Metrics()
	addDelta(m.published, cur.Published, last.Published)
	addDelta(m.consumed, cur.Consumed, last.Consumed)
	addDelta(m.dropped, cur.Dropped, last.Dropped)
	m.backlog.Set(float64(cur.InFlight))
	return cur
}

// addDelta игнорирует уменьшение: шина могла быть пересоздана
func addDelta(c prometheus.Counter, cur, last uint64) {
	if cur > last {
		c.Add(float64(cur - last))
	}
}
