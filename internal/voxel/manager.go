package voxel

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/sectors"
	"github.com/annel0/voxel-terrain/internal/vec"
)

var (
	// ErrPopulated форму сетки нельзя менять, пока есть секторы
	ErrPopulated = errors.New("voxel: cannot change grid settings when the map is populated")
	// ErrBadGrid недопустимое соотношение блоков и тайлов
	ErrBadGrid = errors.New("voxel: invalid grid settings")
)

const (
	// DefaultBlocksPerLine блоков на ребро сектора
	DefaultBlocksPerLine = 4
	// DefaultTilesPerLine тайлов на ребро сектора
	DefaultTilesPerLine = 16

	rayStep = 0.05
)

// Config параметры менеджера
type Config struct {
	BlocksPerLine int
	TilesPerLine  int
	FillType      uint8 // тип для заполнения новых секторов, 0 = пусто
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{BlocksPerLine: DefaultBlocksPerLine, TilesPerLine: DefaultTilesPerLine}
}

// BlockFunc обработчик событий блока
type BlockFunc func(addr BlockAddress)

// Manager фасад над вокселями всех секторов сетки
type Manager struct {
	grid *sectors.Grid
	slot sectors.Slot

	blocksPerLine int
	tilesPerLine  int
	fill          uint8

	materials *MaterialRegistry
	fractal   FractalParams

	onBlockLoad []BlockFunc
	onBlockFree []BlockFunc

	log *logging.Logger
}

// NewManager создаёт менеджер и регистрирует его как владельца слота
// содержимого секторов сетки
func NewManager(grid *sectors.Grid, cfg Config) (*Manager, error) {
	if err := checkGrid(cfg.BlocksPerLine, cfg.TilesPerLine); err != nil {
		return nil, err
	}
	m := &Manager{
		grid:          grid,
		blocksPerLine: cfg.BlocksPerLine,
		tilesPerLine:  cfg.TilesPerLine,
		fill:          cfg.FillType,
		materials:     NewMaterialRegistry(),
		fractal:       DefaultFractal,
		log:           logging.GetVoxelLogger(),
	}
	slot, err := grid.InsertContent(sectors.Content{
		Name: "voxel",
		Load: func(cell *sectors.Sector) (any, error) { return newSector(m, cell), nil },
		Free: func(_ *sectors.Sector, data any) { data.(*Sector).free() },
	})
	if err != nil {
		return nil, fmt.Errorf("voxel: register sector content: %w", err)
	}
	m.slot = slot
	return m, nil
}

// Close снимает регистрацию с сетки; все секторы теряют воксельные данные
func (m *Manager) Close() {
	m.grid.RemoveContent(m.slot)
}

func checkGrid(blocks, tiles int) error {
	if blocks <= 0 || tiles <= 0 || tiles%blocks != 0 {
		return fmt.Errorf("%w: %d blocks, %d tiles per line", ErrBadGrid, blocks, tiles)
	}
	return nil
}

// Configure меняет число блоков и тайлов на ребро сектора.
// Допустимо только пока в сетке нет секторов.
func (m *Manager) Configure(blocksPerLine, tilesPerLine int) error {
	if m.grid.Len() > 0 {
		return ErrPopulated
	}
	if err := checkGrid(blocksPerLine, tilesPerLine); err != nil {
		return err
	}
	m.blocksPerLine = blocksPerLine
	m.tilesPerLine = tilesPerLine
	m.log.Debug("сетка: %d блоков, %d тайлов на сектор, ширина тайла %.3f",
		blocksPerLine, tilesPerLine, m.TileWidth())
	return nil
}

// SetFill задаёт тип заполнения новых секторов
func (m *Manager) SetFill(typ uint8) { m.fill = typ }

// SetFractal заменяет параметры фрактального шума
func (m *Manager) SetFractal(p FractalParams) { m.fractal = p }

// Grid возвращает страничную сетку
func (m *Manager) Grid() *sectors.Grid { return m.grid }

// BlocksPerLine блоков на ребро сектора
func (m *Manager) BlocksPerLine() int { return m.blocksPerLine }

// TilesPerLine тайлов на ребро сектора
func (m *Manager) TilesPerLine() int { return m.tilesPerLine }

// TilesPerBlock тайлов на ребро блока
func (m *Manager) TilesPerBlock() int { return m.tilesPerLine / m.blocksPerLine }

// TileWidth ширина тайла в мировых единицах
func (m *Manager) TileWidth() float32 {
	return m.grid.Width() / float32(m.tilesPerLine)
}

// WorldTiles тайлов на ребро всего мира
func (m *Manager) WorldTiles() int {
	return m.tilesPerLine * m.grid.Count()
}

// OnBlockLoad регистрирует обработчик перестройки блока
func (m *Manager) OnBlockLoad(fn BlockFunc) { m.onBlockLoad = append(m.onBlockLoad, fn) }

// OnBlockFree регистрирует обработчик выгрузки блока
func (m *Manager) OnBlockFree(fn BlockFunc) { m.onBlockFree = append(m.onBlockFree, fn) }

func (m *Manager) emitBlockLoad(addr BlockAddress) {
	for _, fn := range m.onBlockLoad {
		fn(addr)
	}
}

func (m *Manager) emitBlockFree(addr BlockAddress) {
	for _, fn := range m.onBlockFree {
		fn(addr)
	}
}

// Sector возвращает воксельные данные сектора по координате в сетке.
// При create=true сектор создаётся.
func (m *Manager) Sector(coord vec.Vec3, create bool) (*Sector, error) {
	cell, err := m.grid.SectorAt(coord, create)
	if err != nil || cell == nil {
		return nil, err
	}
	s, _ := cell.Content(m.slot).(*Sector)
	return s, nil
}

func (m *Manager) sectorOf(cell *sectors.Sector) *Sector {
	s, _ := cell.Content(m.slot).(*Sector)
	return s
}

// resolve находит сектор и локальную координату абсолютного тайла
func (m *Manager) resolve(x, y, z int, create bool) (*Sector, vec.Vec3) {
	p := vec.New3(x, y, z)
	if !p.Inside(m.WorldTiles()) {
		return nil, p
	}
	s, err := m.Sector(p.FloorDiv(m.tilesPerLine), create)
	if err != nil {
		m.log.Debug("сектор для тайла %v недоступен: %v", p, err)
		return nil, p
	}
	return s, p.Mod(m.tilesPerLine)
}

// GetVoxel возвращает воксель по абсолютной координате тайла.
// Сектор создаётся при необходимости; вне мира возвращается пустой воксель.
func (m *Manager) GetVoxel(x, y, z int) Voxel {
	s, l := m.resolve(x, y, z, true)
	if s == nil {
		return Voxel{}
	}
	return s.Voxel(l.X, l.Y, l.Z)
}

// SetVoxel записывает воксель по абсолютной координате тайла.
// Возвращает false, только если сектор не удалось получить.
func (m *Manager) SetVoxel(x, y, z int, v Voxel) bool {
	s, l := m.resolve(x, y, z, true)
	if s == nil {
		return false
	}
	s.SetVoxel(l.X, l.Y, l.Z, v)
	return true
}

// sectorSpan возвращает диапазон секторов, пересекающих область тайлов
func (m *Manager) sectorSpan(origin, size vec.Vec3) vec.Box3 {
	return vec.Box3{
		Min: origin.FloorDiv(m.tilesPerLine),
		Max: origin.Add(size).Sub(vec.Splat3(1)).FloorDiv(m.tilesPerLine),
	}.Clamp(0, m.grid.Count()-1)
}

// CopyVoxels копирует область тайлов в буфер (X быстрее всего).
// Тайлы незагруженных секторов и вне мира читаются как пустые.
func (m *Manager) CopyVoxels(origin, size vec.Vec3) []Voxel {
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil
	}
	out := make([]Voxel, size.X*size.Y*size.Z)
	m.sectorSpan(origin, size).ForEach(func(sc vec.Vec3) bool {
		s, _ := m.Sector(sc, false)
		if s == nil {
			return true
		}
		m.transfer(s, origin, size, func(i int, l vec.Vec3) {
			out[i] = s.Voxel(l.X, l.Y, l.Z)
		})
		return true
	})
	return out
}

// PasteVoxels записывает буфер в область тайлов, создавая секторы.
// Ячейки вне мира пропускаются.
func (m *Manager) PasteVoxels(origin, size vec.Vec3, voxels []Voxel) error {
	if len(voxels) != size.X*size.Y*size.Z {
		return fmt.Errorf("voxel: paste buffer has %d voxels, want %d", len(voxels), size.X*size.Y*size.Z)
	}
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil
	}
	var err error
	m.sectorSpan(origin, size).ForEach(func(sc vec.Vec3) bool {
		var s *Sector
		s, err = m.Sector(sc, true)
		if err != nil {
			err = fmt.Errorf("voxel: paste into sector %v: %w", sc, err)
			return false
		}
		m.transfer(s, origin, size, func(i int, l vec.Vec3) {
			s.SetVoxel(l.X, l.Y, l.Z, voxels[i])
		})
		return true
	})
	return err
}

// transfer обходит ячейки области, попавшие в сектор, передавая индекс
// в буфере области и локальную координату в секторе
func (m *Manager) transfer(s *Sector, origin, size vec.Vec3, fn func(i int, local vec.Vec3)) {
	off := origin.Sub(s.TileOffset())
	lo := off.Max(vec.Splat3(0))
	hi := off.Add(size).Min(vec.Splat3(m.tilesPerLine))
	for z := lo.Z; z < hi.Z; z++ {
		for y := lo.Y; y < hi.Y; y++ {
			for x := lo.X; x < hi.X; x++ {
				i := (x - off.X) + ((y-off.Y)+(z-off.Z)*size.Y)*size.X
				fn(i, vec.New3(x, y, z))
			}
		}
	}
}

// FindVoxel ищет ближайший к точке воксель, подходящий под флаги
// FindEmpty/FindFull. Радиус не меньше ширины тайла; секторы в радиусе
// подгружаются. Возвращает воксель и его абсолютную координату.
func (m *Manager) FindVoxel(flags uint8, point mgl32.Vec3, radius float32) (Voxel, vec.Vec3, bool) {
	tw := m.TileWidth()
	radius = max(tw, radius)
	box := sectors.SphereRange(point, radius, tw).Clamp(0, m.WorldTiles()-1)

	var (
		found bool
		best  vec.Vec3
		bestV Voxel
		bestD float32
	)
	box.ForEach(func(p vec.Vec3) bool {
		v := m.GetVoxel(p.X, p.Y, p.Z)
		if !(v.Type == 0 && flags&FindEmpty != 0) && !(v.Type != 0 && flags&FindFull != 0) {
			return true
		}
		center := mgl32.Vec3{float32(p.X) + 0.5, float32(p.Y) + 0.5, float32(p.Z) + 0.5}.Mul(tw)
		diff := point.Sub(center)
		d := diff.Dot(diff)
		if found && d >= bestD {
			return true
		}
		found, best, bestV, bestD = true, p, v, d
		return true
	})
	return bestV, best, found
}

// IntersectRay идёт по отрезку шагом в двадцатую часть тайла и возвращает
// первую непустую нежидкую ячейку. Ячейки вне мира пропускаются.
func (m *Manager) IntersectRay(start, end mgl32.Vec3) (mgl32.Vec3, vec.Vec3, bool) {
	tw := m.TileWidth()
	limit := m.WorldTiles()
	dir := end.Sub(start)
	length := dir.Len()
	if length > 0 {
		dir = dir.Normalize()
	}
	step := float32(rayStep) * tw

	for t := float32(0); t <= length+0.5*step; t += step {
		pos := start.Add(dir.Mul(t))
		p := vec.New3(floorTile(pos[0], tw), floorTile(pos[1], tw), floorTile(pos[2], tw))
		if !p.Inside(limit) {
			continue
		}
		v := m.GetVoxel(p.X, p.Y, p.Z)
		if v.Type == 0 {
			continue
		}
		mat := m.materials.Find(uint32(v.Type))
		if mat == nil || mat.Class.IsLiquid() {
			continue
		}
		return pos, p, true
	}
	return mgl32.Vec3{}, vec.Vec3{}, false
}

func floorTile(f, tw float32) int {
	return int(math.Floor(float64(f / tw)))
}

// MarkUpdates распространяет граневую грязность явно изменённых блоков
// на соседние блоки, включая блоки соседних загруженных секторов
func (m *Manager) MarkUpdates() {
	n := m.blocksPerLine
	m.grid.Each(func(cell *sectors.Sector) bool {
		s := m.sectorOf(cell)
		if s == nil || !s.dirty {
			return true
		}
		for i, b := range s.blocks {
			if b.Dirty&DirtyExplicit == 0 {
				continue
			}
			at := vec.FromIndex(i, n)
			for _, nb := range blockNeighbors {
				if b.Dirty&nb.mask != nb.mask {
					continue
				}
				m.markBlock(s, at.X+nb.dx, at.Y+nb.dy, at.Z+nb.dz)
			}
		}
		return true
	})
}

// markBlock помечает блок, переходя в соседний сектор через границу.
// Отсутствующие секторы не создаются.
func (m *Manager) markBlock(s *Sector, x, y, z int) {
	n := m.blocksPerLine
	p := vec.New3(x, y, z)
	target := s
	if !p.Inside(n) {
		sc := s.Offset().Add(p.FloorDiv(n))
		if !m.grid.Contains(sc) {
			return
		}
		target, _ = m.Sector(sc, false)
		if target == nil {
			return
		}
		p = p.Mod(n)
	}
	target.blocks[target.blockIndex(p.X, p.Y, p.Z)].Dirty |= DirtyPropagated
	target.dirty = true
}

// UpdateMarked перестраивает все блоки с ненулевой грязностью и
// сбрасывает флаги. Возвращает количество перестроенных блоков.
func (m *Manager) UpdateMarked() int {
	table := m.materials.Snapshot()
	n := m.blocksPerLine
	built := 0
	m.grid.Each(func(cell *sectors.Sector) bool {
		s := m.sectorOf(cell)
		if s == nil || !s.dirty {
			return true
		}
		for i := range s.blocks {
			if s.blocks[i].Dirty == 0 {
				continue
			}
			at := vec.FromIndex(i, n)
			s.buildBlock(&table, at.X, at.Y, at.Z)
			s.blocks[i].Dirty = 0
			built++
		}
		s.dirty = false
		return true
	})
	if built > 0 {
		m.log.Debug("перестроено блоков: %d", built)
	}
	return built
}

// Update распространяет грязность и перестраивает помеченные блоки
func (m *Manager) Update() int {
	m.MarkUpdates()
	return m.UpdateMarked()
}

// hintArea копирует область с ореолом и проставляет подсказки
func (m *Manager) hintArea(table *MaterialTable, origin, size vec.Vec3) *Region {
	halo := origin.Sub(vec.Splat3(1))
	full := size.Add(vec.Splat3(2))
	r := NewRegion(halo, full, m.CopyVoxels(halo, full), table)
	HintRegion(r)
	return r
}

// Memory возвращает примерный объём памяти вокселей и материалов в байтах
func (m *Manager) Memory() int {
	total := int(unsafe.Sizeof(*m))
	m.grid.Each(func(cell *sectors.Sector) bool {
		if s := m.sectorOf(cell); s != nil {
			total += s.Memory()
		}
		return true
	})
	total += m.materials.Len() * int(unsafe.Sizeof(Material{}))
	return total
}

// Material возвращает материал по идентификатору или nil
func (m *Manager) Material(id uint32) *Material {
	return m.materials.Find(id)
}

// InsertMaterial добавляет или заменяет материал.
// Нельзя вызывать во время прохода перестройки.
func (m *Manager) InsertMaterial(mat *Material) error {
	prev, err := m.materials.Insert(mat)
	if err != nil {
		return err
	}
	if prev != nil {
		m.log.Debug("материал %d (%s) заменён", mat.ID, prev.Name)
	}
	return nil
}

// RemoveMaterial удаляет материал
func (m *Manager) RemoveMaterial(id uint32) {
	m.materials.Remove(id)
}

// ClearMaterials удаляет все материалы
func (m *Manager) ClearMaterials() {
	m.materials.Clear()
}

// Materials возвращает материалы по возрастанию ID
func (m *Manager) Materials() []*Material {
	return m.materials.All()
}

// CheckOccluder сообщает, закрывает ли воксель обзор
func (m *Manager) CheckOccluder(v Voxel) bool {
	if v.Type == 0 {
		return false
	}
	return m.materials.Find(uint32(v.Type)).Occluder()
}
