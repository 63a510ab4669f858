// Package terrain сервис над воксельным менеджером: владеет сеткой,
// сериализует доступ, подгружает и сохраняет секторы, публикует события.
package terrain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxel-terrain/internal/cache"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/physics"
	"github.com/annel0/voxel-terrain/internal/sectors"
	"github.com/annel0/voxel-terrain/internal/storage"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/annel0/voxel-terrain/internal/worldgen"
)

// ErrBadAddress адрес блока вне сетки
var ErrBadAddress = errors.New("terrain: block address outside the grid")

// Options параметры и зависимости сервиса. Store, Cache, Bus, Generator
// и Registerer необязательны.
type Options struct {
	SectorsPerLine int
	SectorWidth    float32 // ширина сектора в мировых единицах
	Voxel          voxel.Config
	SectorTTL      time.Duration // 0: секторы не выгружаются по времени

	Store      *storage.TerrainStore
	Cache      cache.CacheRepo
	Bus        eventbus.EventBus
	Generator  *worldgen.HeightMap
	Registerer prometheus.Registerer
	NodeID     string
}

// SectorEvent полезная нагрузка событий sector-load и sector-free
type SectorEvent struct {
	Sector   vec.Vec3 `json:"sector"`
	Index    int      `json:"index"`
	Restored int      `json:"restored,omitempty"` // блоков восстановлено при загрузке
}

// TickStats итог прохода обновления
type TickStats struct {
	Built   int `json:"built"`
	Evicted int `json:"evicted"`
}

// Stats сводка состояния террейна
type Stats struct {
	Sectors       int     `json:"sectors"`
	MemoryBytes   int     `json:"memory_bytes"`
	Materials     int     `json:"materials"`
	BlocksPerLine int     `json:"blocks_per_line"`
	TilesPerLine  int     `json:"tiles_per_line"`
	TileWidth     float32 `json:"tile_width"`
	WorldTiles    int     `json:"world_tiles"`
}

// Service владеет менеджером и сеткой. Все методы безопасны для
// вызова из разных горутин.
type Service struct {
	mu       sync.Mutex
	grid     *sectors.Grid
	manager  *voxel.Manager
	collider *physics.TerrainCollider

	store  *storage.TerrainStore
	cache  cache.CacheRepo
	bus    eventbus.EventBus
	gen    *worldgen.HeightMap
	ttl    time.Duration
	nodeID string

	// события копятся под мьютексом и публикуются после его освобождения
	pending []*eventbus.Envelope

	metrics *Metrics
	tracer  trace.Tracer
	log     *logging.Logger
}

// New создаёт сервис и восстанавливает материалы из хранилища
func New(opts Options) (*Service, error) {
	if opts.SectorsPerLine <= 0 || opts.SectorsPerLine > 256 {
		return nil, fmt.Errorf("terrain: %d sectors per line outside 1..256", opts.SectorsPerLine)
	}
	if opts.SectorWidth <= 0 {
		return nil, fmt.Errorf("terrain: sector width %v must be positive", opts.SectorWidth)
	}
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.Generator != nil {
		// генератор заменяет заливку
		opts.Voxel.FillType = 0
	}

	grid := sectors.NewGrid(opts.SectorsPerLine, opts.SectorWidth)
	manager, err := voxel.NewManager(grid, opts.Voxel)
	if err != nil {
		return nil, err
	}

	s := &Service{
		grid:     grid,
		manager:  manager,
		collider: physics.NewTerrainCollider(manager),
		store:    opts.Store,
		cache:    opts.Cache,
		bus:      opts.Bus,
		gen:      opts.Generator,
		ttl:      opts.SectorTTL,
		nodeID:   opts.NodeID,
		metrics:  newMetrics(opts.Registerer),
		tracer:   otel.Tracer("terrain"),
		log:      logging.GetTerrainLogger(),
	}

	if s.store != nil {
		mats, err := s.store.LoadMaterials()
		if err != nil {
			return nil, fmt.Errorf("terrain: load materials: %w", err)
		}
		for _, mat := range mats {
			if err := manager.InsertMaterial(mat); err != nil {
				return nil, fmt.Errorf("terrain: restore material %d: %w", mat.ID, err)
			}
		}
		if len(mats) > 0 {
			s.log.Info("Восстановлено материалов: %d", len(mats))
		}
	}

	grid.OnLoad(s.sectorLoaded)
	grid.OnFree(s.sectorFreed)
	manager.OnBlockLoad(func(addr voxel.BlockAddress) { s.queue(eventbus.EventBlockLoad, addr) })
	manager.OnBlockFree(func(addr voxel.BlockAddress) { s.queue(eventbus.EventBlockFree, addr) })
	return s, nil
}

// NodeID идентификатор узла, которым подписаны события
func (s *Service) NodeID() string { return s.nodeID }

// Bus шина событий сервиса или nil
func (s *Service) Bus() eventbus.EventBus { return s.bus }

// do выполняет fn под мьютексом и публикует накопленные события.
// Паника в fn снимает блокировку и отбрасывает события прохода.
func (s *Service) do(ctx context.Context, fn func()) {
	s.publish(ctx, s.locked(fn))
}

func (s *Service) locked(fn func()) []*eventbus.Envelope {
	s.mu.Lock()
	defer func() {
		s.pending = nil
		s.mu.Unlock()
	}()
	fn()
	return s.pending
}

// touch продлевает жизнь загруженным секторам, пересекающим область тайлов
// [lo, hi]. Вызывается под мьютексом.
func (s *Service) touch(lo, hi vec.Vec3) {
	tpl := s.manager.TilesPerLine()
	box := vec.Box3{Min: lo.FloorDiv(tpl), Max: hi.FloorDiv(tpl)}
	s.grid.Touch(box)
}

func (s *Service) queue(eventType string, payload any) {
	if s.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(s.nodeID, eventType, payload)
	if err != nil {
		s.log.Warn("Событие %s не сформировано: %v", eventType, err)
		return
	}
	s.pending = append(s.pending, ev)
}

func (s *Service) publish(ctx context.Context, events []*eventbus.Envelope) {
	for _, ev := range events {
		if err := s.bus.Publish(ctx, ev); err != nil {
			s.log.Warn("Публикация %s: %v", ev.EventType, err)
			return
		}
	}
}

// sectorLoaded восстанавливает блоки нового сектора или генерирует рельеф
func (s *Service) sectorLoaded(cell *sectors.Sector) {
	sec, _ := s.manager.Sector(cell.Coord, false)
	if sec == nil {
		return
	}
	restored, err := s.restore(sec)
	if err != nil {
		s.log.Warn("Сектор %v восстановлен частично: %v", cell.Coord, err)
	}
	if restored == 0 && s.gen != nil {
		s.gen.Fill(sec)
	}
	s.metrics.sectorsLoaded.Inc()
	s.metrics.restored.Add(float64(restored))
	s.queue(eventbus.EventSectorLoad, SectorEvent{Sector: cell.Coord, Index: cell.Index, Restored: restored})
}

// restore читает сохранённые блоки сектора: через кеш, если он есть,
// иначе напрямую из хранилища
func (s *Service) restore(sec *voxel.Sector) (int, error) {
	blocks, err := s.storedBlocks(sec)
	restored := 0
	for addr, payload := range blocks {
		b := addr.BlockCoord()
		if rerr := sec.ReadBlock(b.X, b.Y, b.Z, bytes.NewReader(payload)); rerr != nil {
			err = errors.Join(err, fmt.Errorf("block %v: %w", addr, rerr))
			continue
		}
		restored++
	}
	return restored, err
}

func (s *Service) storedBlocks(sec *voxel.Sector) (map[voxel.BlockAddress][]byte, error) {
	ctx := context.Background()
	if s.cache == nil {
		if s.store == nil {
			return nil, nil
		}
		return s.store.SectorBlocks(sec.Offset())
	}

	out := make(map[voxel.BlockAddress][]byte)
	var err error
	forEachBlock(sec, func(addr voxel.BlockAddress) {
		data, gerr := s.cache.Get(ctx, storage.BlockKey(addr))
		switch {
		case gerr == nil:
			out[addr] = data
		case !cache.IsCacheMiss(gerr):
			err = errors.Join(err, gerr)
		}
	})
	return out, err
}

// sectorFreed сохраняет все блоки выгружаемого сектора и сбрасывает их
// записи в кеше
func (s *Service) sectorFreed(cell *sectors.Sector) {
	sec, _ := s.manager.Sector(cell.Coord, false)
	if sec == nil {
		return
	}
	ctx := context.Background()
	items := make(map[string][]byte)
	forEachBlock(sec, func(addr voxel.BlockAddress) {
		b := addr.BlockCoord()
		items[storage.BlockKey(addr)] = sec.EncodeBlock(b.X, b.Y, b.Z)
	})

	if s.store != nil {
		if err := s.store.BatchStore(ctx, items); err != nil {
			s.metrics.persistErrors.Inc()
			s.log.Error("Сектор %v не сохранён: %v", cell.Coord, err)
		}
	}
	if s.cache != nil {
		for key := range items {
			if err := s.cache.Invalidate(ctx, key); err != nil {
				s.log.Debug("Инвалидация %s: %v", key, err)
			}
		}
	}
	s.metrics.sectorsFreed.Inc()
	s.queue(eventbus.EventSectorFree, SectorEvent{Sector: cell.Coord, Index: cell.Index})
}

func forEachBlock(sec *voxel.Sector, fn func(addr voxel.BlockAddress)) {
	n := sec.BlocksPerLine()
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				fn(sec.Address(x, y, z))
			}
		}
	}
}

// GetVoxel возвращает воксель по абсолютной координате тайла
func (s *Service) GetVoxel(ctx context.Context, p vec.Vec3) voxel.Voxel {
	var v voxel.Voxel
	s.do(ctx, func() {
		v = s.manager.GetVoxel(p.X, p.Y, p.Z)
		s.touch(p, p)
	})
	return v
}

// Edit записывает воксель. Возвращает false для координаты вне мира.
func (s *Service) Edit(ctx context.Context, p vec.Vec3, v voxel.Voxel) bool {
	var ok bool
	s.do(ctx, func() {
		if ok = s.manager.SetVoxel(p.X, p.Y, p.Z, v); ok {
			s.metrics.edits.Inc()
			s.touch(p, p)
		}
	})
	return ok
}

// Copy копирует область тайлов
func (s *Service) Copy(ctx context.Context, origin, size vec.Vec3) []voxel.Voxel {
	var out []voxel.Voxel
	s.do(ctx, func() {
		out = s.manager.CopyVoxels(origin, size)
		s.touch(origin, origin.Add(size).Sub(vec.Splat3(1)))
	})
	return out
}

// Paste записывает область тайлов
func (s *Service) Paste(ctx context.Context, origin, size vec.Vec3, voxels []voxel.Voxel) error {
	var err error
	s.do(ctx, func() {
		if err = s.manager.PasteVoxels(origin, size, voxels); err == nil {
			s.metrics.edits.Add(float64(len(voxels)))
			s.touch(origin, origin.Add(size).Sub(vec.Splat3(1)))
		}
	})
	return err
}

// Tick распространяет грязность, перестраивает блоки и выгружает
// устаревшие секторы
func (s *Service) Tick(ctx context.Context) TickStats {
	ctx, span := s.tracer.Start(ctx, "terrain.Tick")
	defer span.End()

	var st TickStats
	start := time.Now()
	s.do(ctx, func() {
		st.Built = s.manager.Update()
		if s.ttl > 0 {
			st.Evicted = s.grid.RemoveOlderThan(s.ttl)
		}
		s.metrics.blocksBuilt.Add(float64(st.Built))
		s.metrics.sectors.Set(float64(s.grid.Len()))
		s.metrics.memory.Set(float64(s.manager.Memory()))
	})
	s.metrics.tickDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("terrain.blocks_built", st.Built), attribute.Int("terrain.sectors_evicted", st.Evicted))
	if st.Built > 0 || st.Evicted > 0 {
		s.log.Debug("Проход: перестроено %d, выгружено %d", st.Built, st.Evicted)
	}
	return st
}

// Run вызывает Tick с интервалом до отмены контекста
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// BuildBlock строит меш одного блока
func (s *Service) BuildBlock(ctx context.Context, addr voxel.BlockAddress) (*voxel.Mesh, error) {
	ctx, span := s.tracer.Start(ctx, "terrain.BuildBlock",
		trace.WithAttributes(attribute.String("terrain.block", addr.String())))
	defer span.End()

	var (
		builder *voxel.Builder
		err     error
	)
	s.do(ctx, func() {
		if !s.grid.Contains(addr.SectorCoord()) || !addr.BlockCoord().Inside(s.manager.BlocksPerLine()) {
			err = fmt.Errorf("%w: %v", ErrBadAddress, addr)
			return
		}
		// Построитель копирует воксели, дальше мьютекс не нужен
		builder = s.manager.BlockBuilder(addr)
	})
	if err != nil {
		return nil, err
	}

	mesh := voxel.NewMesh()
	n, err := builder.Build(mesh)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	mesh.Finish()
	s.metrics.triangles.Add(float64(n))
	span.SetAttributes(attribute.Int("terrain.triangles", n))
	return mesh, nil
}

// Find ищет ближайший к точке воксель по флагам voxel.Find*
func (s *Service) Find(ctx context.Context, flags uint8, point mgl32.Vec3, radius float32) (voxel.Voxel, vec.Vec3, bool) {
	var (
		v     voxel.Voxel
		tile  vec.Vec3
		found bool
	)
	s.do(ctx, func() {
		v, tile, found = s.manager.FindVoxel(flags, point, radius)
		tw := s.manager.TileWidth()
		box := sectors.SphereRange(point, max(tw, radius), tw)
		s.touch(box.Min, box.Max)
	})
	return v, tile, found
}

// Ray пересекает отрезок с твёрдыми вокселями
func (s *Service) Ray(ctx context.Context, start, end mgl32.Vec3) (mgl32.Vec3, vec.Vec3, bool) {
	var (
		point mgl32.Vec3
		tile  vec.Vec3
		hit   bool
	)
	s.do(ctx, func() { point, tile, hit = s.manager.IntersectRay(start, end) })
	return point, tile, hit
}

// Collide возвращает контакты и погружение тела
func (s *Service) Collide(ctx context.Context, box physics.AABB) physics.Result {
	var res physics.Result
	s.do(ctx, func() { res = s.collider.Query(box) })
	return res
}

// CastRay пересекает отрезок с формами тайлов и считает нормаль удара
func (s *Service) CastRay(ctx context.Context, start, end mgl32.Vec3) (physics.Collision, bool) {
	var (
		c   physics.Collision
		hit bool
	)
	s.do(ctx, func() { c, hit = s.collider.CastRay(start, end) })
	return c, hit
}

// RefreshPoint подгружает секторы вокруг точки и продлевает им жизнь
func (s *Service) RefreshPoint(ctx context.Context, point mgl32.Vec3, radius float32) error {
	var err error
	s.do(ctx, func() { err = s.grid.RefreshPoint(point, radius) })
	return err
}

// Stats сводка по загруженному миру
func (s *Service) Stats(ctx context.Context) Stats {
	var st Stats
	s.do(ctx, func() {
		st = Stats{
			Sectors:       s.grid.Len(),
			MemoryBytes:   s.manager.Memory(),
			Materials:     len(s.manager.Materials()),
			BlocksPerLine: s.manager.BlocksPerLine(),
			TilesPerLine:  s.manager.TilesPerLine(),
			TileWidth:     s.manager.TileWidth(),
			WorldTiles:    s.manager.WorldTiles(),
		}
	})
	return st
}

// Materials материалы по возрастанию ID
func (s *Service) Materials(ctx context.Context) []*voxel.Material {
	var mats []*voxel.Material
	s.do(ctx, func() { mats = s.manager.Materials() })
	return mats
}

// InsertMaterial добавляет материал и сохраняет его определение
func (s *Service) InsertMaterial(ctx context.Context, mat *voxel.Material) error {
	var err error
	s.do(ctx, func() {
		if err = s.manager.InsertMaterial(mat); err != nil {
			return
		}
		if s.store != nil {
			err = s.store.SaveMaterial(mat)
		}
	})
	return err
}

// RemoveMaterial удаляет материал
func (s *Service) RemoveMaterial(ctx context.Context, id uint32) error {
	var err error
	s.do(ctx, func() {
		s.manager.RemoveMaterial(id)
		if s.store != nil {
			err = s.store.DeleteMaterial(id)
		}
	})
	return err
}

// Close сохраняет и выгружает все секторы
func (s *Service) Close(ctx context.Context) {
	s.do(ctx, func() {
		s.grid.Clear()
		s.manager.Close()
	})
}
