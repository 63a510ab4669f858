package voxel

import (
	"fmt"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// Region буфер вокселей прямоугольной области вместе с их материалами.
// Живёт один проход перестройки и после него выбрасывается.
type Region struct {
	Origin    vec.Vec3 // абсолютная координата тайла для локального (0,0,0)
	Size      vec.Vec3
	voxels    []Voxel
	materials []*Material
}

// NewRegion оборачивает скопированные воксели и разрешает их материалы
func NewRegion(origin, size vec.Vec3, voxels []Voxel, table *MaterialTable) *Region {
	if len(voxels) != size.X*size.Y*size.Z {
		panic(fmt.Sprintf("voxel: region buffer has %d voxels, want %d", len(voxels), size.X*size.Y*size.Z))
	}
	r := &Region{
		Origin:    origin,
		Size:      size,
		voxels:    voxels,
		materials: make([]*Material, len(voxels)),
	}
	for i, v := range voxels {
		r.materials[i] = table.Lookup(v)
	}
	return r
}

func (r *Region) index(x, y, z int) int {
	if x < 0 || y < 0 || z < 0 || x >= r.Size.X || y >= r.Size.Y || z >= r.Size.Z {
		panic(fmt.Sprintf("voxel: region index (%d,%d,%d) outside %v", x, y, z, r.Size))
	}
	return x + (y+z*r.Size.Y)*r.Size.X
}

// Voxel возвращает воксель по локальной координате
func (r *Region) Voxel(x, y, z int) Voxel {
	return r.voxels[r.index(x, y, z)]
}

// SetVoxel записывает воксель по локальной координате
func (r *Region) SetVoxel(x, y, z int, v Voxel) {
	r.voxels[r.index(x, y, z)] = v
}

// Material возвращает материал по локальной координате или nil
func (r *Region) Material(x, y, z int) *Material {
	return r.materials[r.index(x, y, z)]
}

// Voxels возвращает внутренний буфер
func (r *Region) Voxels() []Voxel {
	return r.voxels
}

// Window возвращает окрестность 3x3x3 вокруг локальной координаты.
// Координата должна отстоять от границы буфера хотя бы на одну ячейку.
func (r *Region) Window(x, y, z int) *Window {
	var w Window
	for dz := 0; dz < 3; dz++ {
		for dy := 0; dy < 3; dy++ {
			for dx := 0; dx < 3; dx++ {
				i := r.index(x+dx-1, y+dy-1, z+dz-1)
				w[dx][dy][dz] = Cell{Voxel: r.voxels[i], Material: r.materials[i]}
			}
		}
	}
	return &w
}

// Cell воксель с разрешённым материалом. Ячейка без материала считается пустой.
type Cell struct {
	Voxel    Voxel
	Material *Material
}

// Window окрестность 3x3x3, индексируется [x][y][z], центр [1][1][1]
type Window [3][3][3]Cell

// NewWindow собирает окрестность из функции доступа по смещению 0..2
func NewWindow(at func(x, y, z int) Cell) *Window {
	var w Window
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 3; z++ {
				w[x][y][z] = at(x, y, z)
			}
		}
	}
	return &w
}

// Center возвращает центральную ячейку
func (w *Window) Center() Cell {
	return w[1][1][1]
}

func (w *Window) filled(x, y, z int) bool {
	return w[x][y][z].Material != nil
}

func (w *Window) empty(x, y, z int) bool {
	return w[x][y][z].Material == nil
}

func (w *Window) liquid(x, y, z int) bool {
	m := w[x][y][z].Material
	return m != nil && m.Class.IsLiquid()
}

func (w *Window) solid(x, y, z int) bool {
	m := w[x][y][z].Material
	return m != nil && !m.Class.IsLiquid()
}

func (w *Window) sloped(x, y, z int) bool {
	m := w[x][y][z].Material
	return m != nil && m.Class.IsSloped()
}

// liquidEmpty пусто или жидкость
func (w *Window) liquidEmpty(x, y, z int) bool {
	m := w[x][y][z].Material
	return m == nil || m.Class.IsLiquid()
}

func (w *Window) liquidEmptyRounded(x, y, z int) bool {
	m := w[x][y][z].Material
	return m == nil || m.Class.IsLiquid() || m.Class.IsRounded()
}

func (w *Window) liquidEmptyFractal(x, y, z int) bool {
	m := w[x][y][z].Material
	return m == nil || m.Class.IsLiquid() || m.Class.IsFractal()
}

// cellTest предикат ячейки окрестности
type cellTest func(w *Window, x, y, z int) bool

var (
	testEmpty       cellTest = (*Window).empty
	testLiquidEmpty cellTest = (*Window).liquidEmpty
)

// Types возвращает типы вокселей окрестности; ячейки без материала дают 0
func (w *Window) Types() [3][3][3]uint8 {
	var t [3][3][3]uint8
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 3; z++ {
				if w[x][y][z].Material != nil {
					t[x][y][z] = w[x][y][z].Voxel.Type
				}
			}
		}
	}
	return t
}
