package terrain

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/cache"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/physics"
	"github.com/annel0/voxel-terrain/internal/storage"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/annel0/voxel-terrain/internal/worldgen"
)

func TestMain(m *testing.M) {
	os.Setenv("TERRAIN_LOG_FILELESS", "1")
	os.Exit(m.Run())
}

var stone = voxel.Voxel{Type: 1}

func newOptions() Options {
	return Options{
		SectorsPerLine: 2,
		SectorWidth:    16,
		Voxel:          voxel.DefaultConfig(),
		Registerer:     prometheus.NewRegistry(),
		NodeID:         "test-node",
	}
}

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	ctx := context.Background()
	if len(s.Materials(ctx)) == 0 {
		mat := voxel.NewMaterial(1)
		mat.Name = "stone"
		mat.Flags |= voxel.FlagOccluder
		require.NoError(t, s.InsertMaterial(ctx, mat))
	}
	return s
}

func openStore(t *testing.T) *storage.TerrainStore {
	t.Helper()
	st, err := storage.Open(storage.Options{InMemory: true, Compression: true})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type recorder struct {
	mu     sync.Mutex
	events []*eventbus.Envelope
}

func (r *recorder) handle(ctx context.Context, ev *eventbus.Envelope) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

func TestNewValidation(t *testing.T) {
	opts := newOptions()
	opts.SectorsPerLine = 300
	_, err := New(opts)
	assert.Error(t, err)

	opts = newOptions()
	opts.SectorWidth = 0
	_, err = New(opts)
	assert.Error(t, err)

	opts = newOptions()
	opts.Voxel.BlocksPerLine = 3
	_, err = New(opts)
	assert.ErrorIs(t, err, voxel.ErrBadGrid)
}

func TestEditTickPublishesEvents(t *testing.T) {
	bus := eventbus.NewMemoryBus(256)
	defer bus.Close()
	rec := &recorder{}
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, rec.handle)
	require.NoError(t, err)

	opts := newOptions()
	opts.Bus = bus
	s := newService(t, opts)
	ctx := context.Background()

	assert.True(t, s.Edit(ctx, vec.New3(1, 1, 1), stone))
	assert.False(t, s.Edit(ctx, vec.New3(-1, 0, 0), stone))
	assert.Equal(t, stone.Type, s.GetVoxel(ctx, vec.New3(1, 1, 1)).Type)

	st := s.Tick(ctx)
	assert.GreaterOrEqual(t, st.Built, 1)
	assert.Zero(t, st.Evicted)

	require.Eventually(t, func() bool {
		return rec.has(eventbus.EventSectorLoad) && rec.has(eventbus.EventBlockLoad)
	}, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	for _, ev := range rec.events {
		assert.Equal(t, "test-node", ev.Source)
		if ev.EventType == eventbus.EventBlockLoad {
			var addr voxel.BlockAddress
			require.NoError(t, ev.Decode(&addr))
			assert.Equal(t, [3]uint8{0, 0, 0}, addr.Sector)
		}
	}
	rec.mu.Unlock()

	s.Close(ctx)
	require.Eventually(t, func() bool {
		return rec.has(eventbus.EventSectorFree) && rec.has(eventbus.EventBlockFree)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBuildBlock(t *testing.T) {
	s := newService(t, newOptions())
	ctx := context.Background()
	s.Edit(ctx, vec.New3(1, 1, 1), stone)

	mesh, err := s.BuildBlock(ctx, voxel.NewBlockAddress(vec.New3(0, 0, 0), vec.New3(0, 0, 0)))
	require.NoError(t, err)
	assert.Greater(t, mesh.TriangleCount(), 0)
	require.Len(t, mesh.Groups, 1)
	assert.Equal(t, uint32(1), mesh.Groups[0].Material.ID)

	empty, err := s.BuildBlock(ctx, voxel.NewBlockAddress(vec.New3(1, 1, 1), vec.New3(3, 3, 3)))
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	_, err = s.BuildBlock(ctx, voxel.NewBlockAddress(vec.New3(2, 0, 0), vec.New3(0, 0, 0)))
	assert.ErrorIs(t, err, ErrBadAddress)
	_, err = s.BuildBlock(ctx, voxel.NewBlockAddress(vec.New3(0, 0, 0), vec.New3(4, 0, 0)))
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestPersistAcrossRestart(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	opts := newOptions()
	opts.Store = st
	a := newService(t, opts)
	a.Edit(ctx, vec.New3(5, 5, 5), stone)
	a.Edit(ctx, vec.New3(20, 3, 4), stone)
	a.Close(ctx)

	payload, err := st.LoadBlock(voxel.NewBlockAddress(vec.New3(0, 0, 0), vec.New3(1, 1, 1)))
	require.NoError(t, err)
	assert.Len(t, payload, 64)

	opts = newOptions()
	opts.Store = st
	b, err := New(opts)
	require.NoError(t, err)
	mats := b.Materials(ctx)
	require.Len(t, mats, 1)
	assert.Equal(t, "stone", mats[0].Name)

	assert.Equal(t, stone.Type, b.GetVoxel(ctx, vec.New3(5, 5, 5)).Type)
	assert.Equal(t, stone.Type, b.GetVoxel(ctx, vec.New3(20, 3, 4)).Type)
	assert.Zero(t, b.GetVoxel(ctx, vec.New3(6, 5, 5)).Type)
}

func TestRestoreThroughCache(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	opts := newOptions()
	opts.Store = st
	a := newService(t, opts)
	a.Edit(ctx, vec.New3(2, 2, 2), stone)
	a.Close(ctx)

	c := cache.NewMemoryCache(time.Minute, st, nil)
	opts = newOptions()
	opts.Store = st
	opts.Cache = c
	b := newService(t, opts)
	assert.Equal(t, stone.Type, b.GetVoxel(ctx, vec.New3(2, 2, 2)).Type)

	// все блоки сектора прочитаны из хранилища и осели в кеше
	m := c.GetMetrics()
	assert.Equal(t, int64(64), m.TotalKeys)
	assert.Equal(t, int64(64), m.CacheMisses)

	// выгрузка сбрасывает кеш
	b.Close(ctx)
	assert.Zero(t, c.GetMetrics().TotalKeys)
}

func TestGeneratorFillsNewSectors(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	gen := worldgen.NewHeightMap(11, worldgen.Materials{Stone: 1, Soil: 1, Water: 2})
	gen.BaseHeight = 8
	gen.Amplitude = 2
	gen.WaterLevel = -1

	opts := newOptions()
	opts.Store = st
	opts.Generator = gen
	opts.Voxel.FillType = 2
	a := newService(t, opts)
	assert.Equal(t, stone.Type, a.GetVoxel(ctx, vec.New3(0, 0, 0)).Type)
	assert.Zero(t, a.GetVoxel(ctx, vec.New3(0, 15, 0)).Type)

	// вырытая ячейка не генерируется заново после перезапуска
	a.Edit(ctx, vec.New3(0, 0, 0), voxel.Voxel{})
	a.Close(ctx)

	opts = newOptions()
	opts.Store = st
	opts.Generator = gen
	b := newService(t, opts)
	assert.Zero(t, b.GetVoxel(ctx, vec.New3(0, 0, 0)).Type)
	assert.Equal(t, stone.Type, b.GetVoxel(ctx, vec.New3(1, 0, 0)).Type)
}

func TestTickEvictsStaleSectors(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	opts := newOptions()
	opts.Store = st
	opts.SectorTTL = time.Nanosecond
	s := newService(t, opts)
	s.Edit(ctx, vec.New3(17, 1, 1), stone)
	require.Equal(t, 1, s.Stats(ctx).Sectors)

	time.Sleep(2 * time.Millisecond)
	res := s.Tick(ctx)
	assert.Equal(t, 1, res.Evicted)
	assert.Zero(t, s.Stats(ctx).Sectors)

	blocks, err := st.SectorBlocks(vec.New3(1, 0, 0))
	require.NoError(t, err)
	assert.Len(t, blocks, 64)
}

func TestPanicReleasesLock(t *testing.T) {
	s := newService(t, newOptions())
	ctx := context.Background()

	assert.Panics(t, func() { s.do(ctx, func() { panic("boom") }) })

	done := make(chan Stats, 1)
	go func() { done <- s.Stats(ctx) }()
	select {
	case st := <-done:
		assert.Equal(t, 16, st.TilesPerLine)
	case <-time.After(2 * time.Second):
		t.Fatal("Stats blocked after panic")
	}
}

func TestEditsKeepSectorResident(t *testing.T) {
	opts := newOptions()
	opts.SectorTTL = 200 * time.Millisecond
	s := newService(t, opts)
	ctx := context.Background()

	require.True(t, s.Edit(ctx, vec.New3(1, 1, 1), stone))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, s.Paste(ctx, vec.New3(2, 1, 1), vec.New3(1, 1, 1), []voxel.Voxel{stone}))
	time.Sleep(150 * time.Millisecond)
	_, _, found := s.Find(ctx, voxel.FindFull, mgl32.Vec3{1.5, 1.5, 1.5}, 1)
	require.True(t, found)
	time.Sleep(150 * time.Millisecond)

	// С первой правки прошло больше TTL, но сектор всё время использовался
	st := s.Tick(ctx)
	assert.Equal(t, 0, st.Evicted)
	assert.Equal(t, 1, s.Stats(ctx).Sectors)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, s.Tick(ctx).Evicted)
	assert.Equal(t, 0, s.Stats(ctx).Sectors)
}

func TestFindRayAndCollide(t *testing.T) {
	s := newService(t, newOptions())
	ctx := context.Background()

	origin, size := vec.New3(0, 0, 0), vec.New3(8, 1, 8)
	floor := make([]voxel.Voxel, 64)
	for i := range floor {
		floor[i] = stone
	}
	require.NoError(t, s.Paste(ctx, origin, size, floor))
	assert.Len(t, s.Copy(ctx, origin, size), 64)

	v, tile, ok := s.Find(ctx, voxel.FindFull, mgl32.Vec3{3.5, 3, 3.5}, 4)
	require.True(t, ok)
	assert.Equal(t, stone.Type, v.Type)
	assert.Equal(t, vec.New3(3, 0, 3), tile)

	point, tile, hit := s.Ray(ctx, mgl32.Vec3{2.5, 5, 2.5}, mgl32.Vec3{2.5, -1, 2.5})
	require.True(t, hit)
	assert.Equal(t, vec.New3(2, 0, 2), tile)
	assert.InDelta(t, 1.0, point.Y(), 0.06)

	res := s.Collide(ctx, physics.NewAABB(mgl32.Vec3{4, 1, 4}, mgl32.Vec3{0.4, 0.4, 0.4}))
	assert.NotEmpty(t, res.Contacts)
	assert.Zero(t, res.Submersion)

	c, hit := s.CastRay(ctx, mgl32.Vec3{2.5, 5, 2.5}, mgl32.Vec3{2.5, -1, 2.5})
	require.True(t, hit)
	assert.Equal(t, vec.New3(2, 0, 2), c.Tile)

	st := s.Stats(ctx)
	assert.Equal(t, 1, st.Sectors)
	assert.Equal(t, 32, st.WorldTiles)
	assert.Greater(t, st.MemoryBytes, 0)
}

func TestRefreshPointAndMaterials(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	opts := newOptions()
	opts.Store = st
	s := newService(t, opts)

	require.NoError(t, s.RefreshPoint(ctx, mgl32.Vec3{16, 16, 16}, 1))
	assert.Equal(t, 8, s.Stats(ctx).Sectors)

	require.NoError(t, s.RemoveMaterial(ctx, 1))
	assert.Empty(t, s.Materials(ctx))
	mats, err := st.LoadMaterials()
	require.NoError(t, err)
	assert.Empty(t, mats)

	assert.ErrorIs(t, s.InsertMaterial(ctx, voxel.NewMaterial(0)), voxel.ErrReservedMaterial)
}
