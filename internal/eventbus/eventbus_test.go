package eventbus

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	os.Setenv("TERRAIN_LOG_FILELESS", "1")
	os.Exit(m.Run())
}

type blockPayload struct {
	Sector [3]uint8 `json:"sector"`
	Block  [3]uint8 `json:"block"`
}

func collect(t *testing.T, n int) (Handler, func() []*Envelope) {
	var (
		mu  sync.Mutex
		got []*Envelope
		wg  sync.WaitGroup
	)
	wg.Add(n)
	h := func(ctx context.Context, ev *Envelope) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		wg.Done()
	}
	wait := func() []*Envelope {
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("события не доставлены")
		}
		mu.Lock()
		defer mu.Unlock()
		return append([]*Envelope(nil), got...)
	}
	return h, wait
}

func TestNewEnvelope(t *testing.T) {
	ev, err := NewEnvelope("terrain", EventBlockLoad, blockPayload{Sector: [3]uint8{1, 2, 3}, Block: [3]uint8{0, 1, 0}})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 1, ev.Version)
	assert.JSONEq(t, `{"sector":[1,2,3],"block":[0,1,0]}`, string(ev.Payload))

	var p blockPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, [3]uint8{1, 2, 3}, p.Sector)

	_, err = NewEnvelope("terrain", EventBlockLoad, make(chan int))
	assert.Error(t, err)
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus(64)
	defer bus.Close()

	h, wait := collect(t, 10)
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventBlockLoad}}, h)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ev, _ := NewEnvelope("terrain", EventBlockLoad, i)
		require.NoError(t, bus.Publish(context.Background(), ev))
		other, _ := NewEnvelope("terrain", EventBlockFree, i)
		require.NoError(t, bus.Publish(context.Background(), other))
	}

	got := wait()
	require.Len(t, got, 10)
	for i, ev := range got {
		var n int
		require.NoError(t, ev.Decode(&n))
		assert.Equal(t, i, n)
		assert.Equal(t, EventBlockLoad, ev.EventType)
	}
	assert.Equal(t, uint64(20), bus.Metrics().Published)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()

	var calls int
	var mu sync.Mutex
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, _ := NewEnvelope("terrain", EventSectorLoad, nil)
	require.NoError(t, bus.Publish(context.Background(), ev))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	ev, _ := NewEnvelope("terrain", EventSectorFree, nil)
	assert.ErrorIs(t, bus.Publish(context.Background(), ev), ErrClosed)
	_, err := bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMatchFilter(t *testing.T) {
	ev := &Envelope{EventType: EventBlockLoad, Source: "node-a"}
	assert.True(t, matchFilter(ev, Filter{}))
	assert.True(t, matchFilter(ev, Filter{Types: []string{EventBlockFree, EventBlockLoad}}))
	assert.False(t, matchFilter(ev, Filter{Sources: []string{"node-b"}}))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

type fixedBus struct {
	EventBus
	stats Stats
}

func (b *fixedBus) Metrics() Stats { return b.stats }

func TestMetricsExporterCollect(t *testing.T) {
	bus := &fixedBus{stats: Stats{Published: 5, Consumed: 3, Dropped: 1, InFlight: 2}}
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg, "node-a")

	prev := me.collect(Stats{})
	assert.Equal(t, float64(5), counterValue(t, me.published))

	bus.stats = Stats{Published: 9, Consumed: 3, Dropped: 1}
	me.collect(prev)
	assert.Equal(t, float64(9), counterValue(t, me.published))
	assert.Equal(t, float64(3), counterValue(t, me.consumed))
	assert.Equal(t, float64(1), counterValue(t, me.dropped))

	// Счётчик не уменьшается, если Stats шины начались заново
	bus.stats = Stats{Published: 2}
	me.collect(Stats{Published: 9, Consumed: 3, Dropped: 1})
	assert.Equal(t, float64(9), counterValue(t, me.published))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]string)
	for _, mf := range families {
		names[mf.GetName()] = mf.GetMetric()[0].GetLabel()[0].GetValue()
	}
	assert.Equal(t, map[string]string{
		"terrain_eventbus_events_published_total": "node-a",
		"terrain_eventbus_events_consumed_total":  "node-a",
		"terrain_eventbus_events_dropped_total":   "node-a",
		"terrain_eventbus_events_backlog":         "node-a",
	}, names)
}

func TestJetStreamSubjects(t *testing.T) {
	ev := &Envelope{EventType: EventBlockLoad, Source: "node.a"}
	assert.Equal(t, "terrain.events.block-load.node_a", subjectFor(ev))
	assert.Equal(t, "terrain.events.sector-free._", subjectFor(&Envelope{EventType: EventSectorFree}))

	assert.Equal(t, "terrain.events.*.*", filterSubject(Filter{}))
	assert.Equal(t, "terrain.events.block-load.*", filterSubject(Filter{Types: []string{EventBlockLoad}}))
	assert.Equal(t, "terrain.events.*.node-b", filterSubject(Filter{
		Types:   []string{EventBlockLoad, EventBlockFree},
		Sources: []string{"node-b"},
	}))
}
