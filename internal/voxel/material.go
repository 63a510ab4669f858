package voxel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// GeometryClass семейство формы материала
type GeometryClass uint8

const (
	ClassCube GeometryClass = iota
	ClassLiquid
	ClassRounded
	ClassRoundedFractal
	ClassSloped
	ClassSlopedFractal
)

var classNames = [...]string{"cube", "liquid", "rounded", "rounded-fractal", "sloped", "sloped-fractal"}

func (c GeometryClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ParseGeometryClass разбирает имя класса из конфигурации
func ParseGeometryClass(name string) (GeometryClass, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ClassCube, nil
	}
	for i, n := range classNames {
		if n == name {
			return GeometryClass(i), nil
		}
	}
	return ClassCube, fmt.Errorf("неизвестный класс геометрии %q", name)
}

// MarshalText кодирует класс именем
func (c GeometryClass) MarshalText() ([]byte, error) {
	if int(c) >= len(classNames) {
		return nil, fmt.Errorf("неизвестный класс геометрии %d", uint8(c))
	}
	return []byte(classNames[c]), nil
}

// UnmarshalText разбирает имя класса
func (c *GeometryClass) UnmarshalText(text []byte) error {
	v, err := ParseGeometryClass(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// capability свойства класса, по которым работают предикаты соседства
type capability uint8

const (
	capLiquid capability = 1 << iota
	capSloped
	capRounded
	capFractal
)

var classCapabilities = [...]capability{
	ClassCube:           0,
	ClassLiquid:         capLiquid,
	ClassRounded:        capRounded,
	ClassRoundedFractal: capRounded | capFractal,
	ClassSloped:         capSloped,
	ClassSlopedFractal:  capSloped | capFractal,
}

func (c GeometryClass) has(cap capability) bool {
	if int(c) >= len(classCapabilities) {
		return false
	}
	return classCapabilities[c]&cap != 0
}

// IsLiquid жидкость
func (c GeometryClass) IsLiquid() bool { return c.has(capLiquid) }

// IsSloped sloped или sloped-fractal
func (c GeometryClass) IsSloped() bool { return c.has(capSloped) }

// IsRounded rounded или rounded-fractal
func (c GeometryClass) IsRounded() bool { return c.has(capRounded) }

// IsFractal фрактальные варианты
func (c GeometryClass) IsFractal() bool { return c.has(capFractal) }

// MaterialFlags флаги материала
type MaterialFlags uint8

const (
	FlagOccluder MaterialFlags = 0x01
)

// RenderMaterial данные для рендера, которые террейн только переносит
type RenderMaterial struct {
	Shader   string     `json:"shader,omitempty" yaml:"shader"`
	Textures []string   `json:"textures,omitempty" yaml:"textures"`
	Diffuse  [4]float32 `json:"diffuse" yaml:"diffuse"`
}

// Material статические свойства типа вокселя
type Material struct {
	ID           uint32         `json:"id"`
	Name         string         `json:"name"`
	Class        GeometryClass  `json:"class"`
	Flags        MaterialFlags  `json:"flags"`
	Friction     float32        `json:"friction"`
	TextureScale float32        `json:"texture_scale"`
	Render       RenderMaterial `json:"render"`
}

// NewMaterial создаёт материал с настройками по умолчанию
func NewMaterial(id uint32) *Material {
	return &Material{
		ID:           id,
		Class:        ClassCube,
		Friction:     1,
		TextureScale: 1,
		Render:       RenderMaterial{Diffuse: [4]float32{1, 1, 1, 1}},
	}
}

// Occluder сообщает, закрывает ли материал обзор
func (m *Material) Occluder() bool {
	return m != nil && m.Flags&FlagOccluder != 0
}

// Clone возвращает независимую копию материала
func (m *Material) Clone() *Material {
	c := *m
	c.Render.Textures = append([]string(nil), m.Render.Textures...)
	return &c
}

var (
	ErrNilMaterial      = errors.New("voxel: nil material")
	ErrReservedMaterial = errors.New("voxel: material id 0 is reserved for empty voxels")
)

// MaterialRegistry словарь материалов по идентификатору
type MaterialRegistry struct {
	materials map[uint32]*Material
}

// NewMaterialRegistry создаёт пустой реестр
func NewMaterialRegistry() *MaterialRegistry {
	return &MaterialRegistry{materials: make(map[uint32]*Material)}
}

// Insert добавляет материал, заменяя существующий с тем же ID.
// Возвращает вытесненный материал или nil.
func (r *MaterialRegistry) Insert(m *Material) (*Material, error) {
	if m == nil {
		return nil, ErrNilMaterial
	}
	if m.ID == 0 {
		return nil, ErrReservedMaterial
	}
	prev := r.materials[m.ID]
	r.materials[m.ID] = m
	return prev, nil
}

// Remove удаляет материал
func (r *MaterialRegistry) Remove(id uint32) {
	delete(r.materials, id)
}

// Find возвращает материал или nil
func (r *MaterialRegistry) Find(id uint32) *Material {
	return r.materials[id]
}

// Clear удаляет все материалы
func (r *MaterialRegistry) Clear() {
	r.materials = make(map[uint32]*Material)
}

// Len возвращает количество материалов
func (r *MaterialRegistry) Len() int {
	return len(r.materials)
}

// All возвращает материалы по возрастанию ID
func (r *MaterialRegistry) All() []*Material {
	out := make([]*Material, 0, len(r.materials))
	for _, m := range r.materials {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot копирует реестр в неизменяемую таблицу для одного прохода перестройки
func (r *MaterialRegistry) Snapshot() MaterialTable {
	var t MaterialTable
	for id, m := range r.materials {
		if id < uint32(len(t)) {
			t[id] = m.Clone()
		}
	}
	return t
}

// MaterialTable материалы, доступные по типу вокселя
type MaterialTable [256]*Material

// Lookup возвращает материал вокселя; пустой воксель материала не имеет
func (t *MaterialTable) Lookup(v Voxel) *Material {
	if v.Type == 0 {
		return nil
	}
	return t[v.Type]
}
