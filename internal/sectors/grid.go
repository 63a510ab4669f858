// Package sectors реализует страничную пространственную сетку секторов.
// Каждый сектор адресуется целочисленной координатой и хранит набор
// непрозрачных слотов содержимого, которые заполняют зарегистрированные владельцы.
package sectors

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// DefaultCount количество секторов на ребро сетки по умолчанию
const DefaultCount = 128

// ErrOutOfRange возвращается для индексов за пределами сетки
var ErrOutOfRange = errors.New("sectors: index out of range")

// Slot идентифицирует слот содержимого сектора
type Slot int

// LoadFunc создаёт содержимое слота для нового сектора.
// Ошибка отменяет создание сектора целиком.
type LoadFunc func(s *Sector) (any, error)

// FreeFunc освобождает содержимое слота при удалении сектора
type FreeFunc func(s *Sector, data any)

// Content описывает владельца слота
type Content struct {
	Name string
	Load LoadFunc
	Free FreeFunc
}

// SectorFunc вызывается при загрузке или выгрузке сектора
type SectorFunc func(s *Sector)

// Sector ячейка сетки
type Sector struct {
	Index    int
	Coord    vec.Vec3
	Position mgl32.Vec3 // мировые координаты начала сектора
	Stamp    time.Time  // время последнего обращения через RefreshPoint

	content []any
}

// Content возвращает содержимое слота или nil
func (s *Sector) Content(slot Slot) any {
	if int(slot) >= len(s.content) {
		return nil
	}
	return s.content[slot]
}

// Grid страничная сетка секторов
type Grid struct {
	count   int
	width   float32
	sectors map[int]*Sector
	slots   []*Content

	onLoad []SectorFunc
	onFree []SectorFunc

	loading bool
	now     func() time.Time
}

// NewGrid создаёт сетку из count^3 секторов шириной width мировых единиц
func NewGrid(count int, width float32) *Grid {
	if count <= 0 {
		count = DefaultCount
	}
	return &Grid{
		count:   count,
		width:   width,
		sectors: make(map[int]*Sector),
		now:     time.Now,
	}
}

// Count возвращает количество секторов на ребро
func (g *Grid) Count() int { return g.count }

// Width возвращает ширину сектора в мировых единицах
func (g *Grid) Width() float32 { return g.width }

// SetWidth меняет ширину сектора. Допустимо только для пустой сетки.
func (g *Grid) SetWidth(width float32) error {
	if len(g.sectors) > 0 {
		return fmt.Errorf("sectors: cannot change width of populated grid (%d sectors)", len(g.sectors))
	}
	g.width = width
	return nil
}

// Len возвращает количество загруженных секторов
func (g *Grid) Len() int { return len(g.sectors) }

// Loading сообщает, выполняется ли сейчас RefreshPoint
func (g *Grid) Loading() bool { return g.loading }

// OnLoad регистрирует обработчик загрузки сектора
func (g *Grid) OnLoad(fn SectorFunc) { g.onLoad = append(g.onLoad, fn) }

// OnFree регистрирует обработчик выгрузки сектора
func (g *Grid) OnFree(fn SectorFunc) { g.onFree = append(g.onFree, fn) }

// InsertContent регистрирует владельца слота и создаёт его данные во всех
// уже загруженных секторах.
func (g *Grid) InsertContent(c Content) (Slot, error) {
	slot := Slot(len(g.slots))
	for i, existing := range g.slots {
		if existing == nil {
			slot = Slot(i)
			break
		}
	}
	if int(slot) == len(g.slots) {
		g.slots = append(g.slots, nil)
	}
	g.slots[slot] = &c

	for _, index := range g.Indices() {
		s := g.sectors[index]
		s.grow(len(g.slots))
		if c.Load == nil {
			continue
		}
		data, err := c.Load(s)
		if err != nil {
			g.RemoveContent(slot)
			return 0, fmt.Errorf("sectors: load %s for sector %d: %w", c.Name, index, err)
		}
		s.content[slot] = data
	}
	return slot, nil
}

// RemoveContent освобождает данные слота во всех секторах и снимает регистрацию
func (g *Grid) RemoveContent(slot Slot) {
	if int(slot) >= len(g.slots) || g.slots[slot] == nil {
		return
	}
	c := g.slots[slot]
	for _, index := range g.Indices() {
		s := g.sectors[index]
		if data := s.Content(slot); data != nil {
			if c.Free != nil {
				c.Free(s, data)
			}
			s.content[slot] = nil
		}
	}
	g.slots[slot] = nil
}

// OffsetToIndex переводит координату сектора в линейный индекс
func (g *Grid) OffsetToIndex(c vec.Vec3) int {
	return c.Index(g.count)
}

// IndexToOffset переводит линейный индекс в координату сектора
func (g *Grid) IndexToOffset(index int) vec.Vec3 {
	return vec.FromIndex(index, g.count)
}

// PointToIndex возвращает индекс сектора, содержащего точку (с ограничением по сетке)
func (g *Grid) PointToIndex(p mgl32.Vec3) int {
	c := vec.Vec3{
		X: clampInt(int(p.X()/g.width), 0, g.count-1),
		Y: clampInt(int(p.Y()/g.width), 0, g.count-1),
		Z: clampInt(int(p.Z()/g.width), 0, g.count-1),
	}
	return g.OffsetToIndex(c)
}

// Contains проверяет, что координата сектора лежит внутри сетки
func (g *Grid) Contains(c vec.Vec3) bool {
	return c.Inside(g.count)
}

// Find возвращает загруженный сектор или nil
func (g *Grid) Find(index int) *Sector {
	return g.sectors[index]
}

// Sector возвращает сектор по индексу, создавая его при create=true
func (g *Grid) Sector(index int, create bool) (*Sector, error) {
	if s, ok := g.sectors[index]; ok {
		return s, nil
	}
	if !create {
		return nil, nil
	}
	if index < 0 || index >= g.count*g.count*g.count {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}

	coord := g.IndexToOffset(index)
	s := &Sector{
		Index:    index,
		Coord:    coord,
		Position: mgl32.Vec3{float32(coord.X), float32(coord.Y), float32(coord.Z)}.Mul(g.width),
		Stamp:    g.now(),
		content:  make([]any, len(g.slots)),
	}

	// Создаём содержимое; при ошибке сектор разбирается и не публикуется
	for i, c := range g.slots {
		if c == nil || c.Load == nil {
			continue
		}
		data, err := c.Load(s)
		if err != nil {
			g.freeContent(s)
			return nil, fmt.Errorf("sectors: load %s for sector %d: %w", c.Name, index, err)
		}
		s.content[i] = data
	}
	g.sectors[index] = s

	for _, fn := range g.onLoad {
		fn(s)
	}
	return s, nil
}

// SectorAt возвращает сектор по координате
func (g *Grid) SectorAt(c vec.Vec3, create bool) (*Sector, error) {
	if !g.Contains(c) {
		return nil, fmt.Errorf("%w: %v", ErrOutOfRange, c)
	}
	return g.Sector(g.OffsetToIndex(c), create)
}

// Data возвращает содержимое слота сектора, создавая сектор при create=true
func (g *Grid) Data(slot Slot, index int, create bool) (any, error) {
	s, err := g.Sector(index, create)
	if err != nil || s == nil {
		return nil, err
	}
	return s.Content(slot), nil
}

// RefreshPoint загружает все секторы, пересекающие сферу, и обновляет их метку
// времени. Вложенный вызов во время загрузки игнорируется.
func (g *Grid) RefreshPoint(point mgl32.Vec3, radius float32) error {
	if g.loading {
		return nil
	}
	g.loading = true
	defer func() { g.loading = false }()

	stamp := g.now()
	box := SphereRange(point, radius, g.width).Clamp(0, g.count-1)
	var firstErr error
	box.ForEach(func(c vec.Vec3) bool {
		s, err := g.Sector(g.OffsetToIndex(c), true)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return true
		}
		s.Stamp = stamp
		return true
	})
	return firstErr
}

// Touch обновляет метку времени загруженных секторов диапазона box.
// Незагруженные секторы не создаются.
func (g *Grid) Touch(box vec.Box3) {
	box = box.Intersect(vec.Box3{Max: vec.Splat3(g.count - 1)})
	if box.Empty() {
		return
	}
	stamp := g.now()
	box.ForEach(func(c vec.Vec3) bool {
		if s, ok := g.sectors[g.OffsetToIndex(c)]; ok {
			s.Stamp = stamp
		}
		return true
	})
}

// Remove выгружает сектор
func (g *Grid) Remove(index int) {
	s, ok := g.sectors[index]
	if !ok {
		return
	}
	g.free(s)
	delete(g.sectors, index)
}

// RemoveOlderThan выгружает секторы, не обновлявшиеся дольше age.
// Возвращает количество выгруженных секторов.
func (g *Grid) RemoveOlderThan(age time.Duration) int {
	limit := g.now().Add(-age)
	removed := 0
	for _, index := range g.Indices() {
		if g.sectors[index].Stamp.Before(limit) {
			g.Remove(index)
			removed++
		}
	}
	return removed
}

// Clear выгружает все секторы
func (g *Grid) Clear() {
	for _, index := range g.Indices() {
		g.Remove(index)
	}
}

// Indices возвращает индексы загруженных секторов по возрастанию
func (g *Grid) Indices() []int {
	indices := make([]int, 0, len(g.sectors))
	for index := range g.sectors {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

// Each обходит загруженные секторы по возрастанию индекса
func (g *Grid) Each(fn func(s *Sector) bool) {
	for _, index := range g.Indices() {
		s, ok := g.sectors[index]
		if !ok {
			continue
		}
		if !fn(s) {
			return
		}
	}
}

func (g *Grid) free(s *Sector) {
	for _, fn := range g.onFree {
		fn(s)
	}
	g.freeContent(s)
}

func (g *Grid) freeContent(s *Sector) {
	for i, c := range g.slots {
		if c == nil || i >= len(s.content) || s.content[i] == nil {
			continue
		}
		if c.Free != nil {
			c.Free(s, s.content[i])
		}
		s.content[i] = nil
	}
}

func (s *Sector) grow(n int) {
	for len(s.content) < n {
		s.content = append(s.content, nil)
	}
}

// SphereRange возвращает диапазон ячеек размера unit, покрывающий AABB сферы
func SphereRange(center mgl32.Vec3, radius, unit float32) vec.Box3 {
	lo := center.Sub(mgl32.Vec3{radius, radius, radius})
	hi := center.Add(mgl32.Vec3{radius, radius, radius})
	return AABBRange(lo, hi, unit)
}

// AABBRange возвращает диапазон ячеек размера unit, покрывающий AABB
func AABBRange(lo, hi mgl32.Vec3, unit float32) vec.Box3 {
	return vec.Box3{
		Min: vec.Vec3{X: int(lo.X() / unit), Y: int(lo.Y() / unit), Z: int(lo.Z() / unit)},
		Max: vec.Vec3{X: int(hi.X() / unit), Y: int(hi.Y() / unit), Z: int(hi.Z() / unit)},
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
