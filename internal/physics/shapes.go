package physics

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/voxel"
)

// Shape выпуклая оболочка тайла относительно его центра
type Shape struct {
	Vertices []mgl32.Vec3
}

// Bounds возвращает AABB оболочки, сдвинутой в center
func (s Shape) Bounds(center mgl32.Vec3) AABB {
	if len(s.Vertices) == 0 {
		return AABB{Min: center, Max: center}
	}
	lo, hi := s.Vertices[0], s.Vertices[0]
	for _, v := range s.Vertices[1:] {
		for a := 0; a < 3; a++ {
			lo[a] = min(lo[a], v[a])
			hi[a] = max(hi[a], v[a])
		}
	}
	return AABB{Min: lo.Add(center), Max: hi.Add(center)}
}

// ShapeTable заранее построенные оболочки тайла заданного размера:
// полный куб и склоны для каждой из 16 масок углов
type ShapeTable struct {
	tileSize float32
	box      Shape
	above    [16]Shape
	below    [16]Shape
}

// NewShapeTable строит таблицу для тайла размера size
func NewShapeTable(size float32) *ShapeTable {
	h := 0.5 * size
	cube := [8]mgl32.Vec3{
		{-h, -h, -h}, {h, -h, -h}, {-h, -h, h}, {h, -h, h},
		{-h, h, -h}, {h, h, -h}, {-h, h, h}, {h, h, h},
	}
	corners := [4]uint8{voxel.HintCorner00, voxel.HintCorner10, voxel.HintCorner01, voxel.HintCorner11}

	t := &ShapeTable{tileSize: size, box: Shape{Vertices: cube[:]}}
	for mask := 0; mask < 16; mask++ {
		// Склон вверх: нижняя грань целиком, верхние углы без опущенных
		above := append([]mgl32.Vec3(nil), cube[0:4]...)
		below := append([]mgl32.Vec3(nil), cube[4:8]...)
		for i, c := range corners {
			if uint8(mask)&c == 0 {
				above = append(above, cube[4+i])
				below = append(below, cube[i])
			}
		}
		t.above[mask] = Shape{Vertices: above}
		t.below[mask] = Shape{Vertices: below}
	}
	return t
}

// TileSize размер тайла, для которого построена таблица
func (t *ShapeTable) TileSize() float32 { return t.tileSize }

// Box полный куб
func (t *ShapeTable) Box() Shape { return t.box }

// Above склон, опущенный сверху по маске углов
func (t *ShapeTable) Above(mask uint8) Shape { return t.above[mask&voxel.HintCornerAll] }

// Below склон, поднятый снизу по маске углов
func (t *ShapeTable) Below(mask uint8) Shape { return t.below[mask&voxel.HintCornerAll] }

// ForVoxel выбирает оболочку твёрдого тайла по материалу и подсказке
func (t *ShapeTable) ForVoxel(v voxel.Voxel, m *voxel.Material) Shape {
	if m != nil && m.Class.IsSloped() {
		switch {
		case v.Hint&voxel.HintFaceUp != 0:
			return t.Above(v.Hint)
		case v.Hint&voxel.HintFaceDown != 0:
			return t.Below(v.Hint)
		}
	}
	return t.box
}
