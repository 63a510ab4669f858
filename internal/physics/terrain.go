// Package physics строит столкновения тел с воксельным террейном:
// оболочки тайлов, контакты, погружение в жидкость и лучи.
package physics

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

// submersionGain компенсирует тайлы, которые AABB задевает лишь краем
const submersionGain = 1.3

// Terrain источник вокселей для физики
type Terrain interface {
	CopyVoxels(origin, size vec.Vec3) []voxel.Voxel
	Material(id uint32) *voxel.Material
	TileWidth() float32
	IntersectRay(start, end mgl32.Vec3) (mgl32.Vec3, vec.Vec3, bool)
}

// Contact твёрдый тайл, пересекающий тело
type Contact struct {
	Tile   vec.Vec3   `json:"tile"`
	Center mgl32.Vec3 `json:"center"`
	Shape  Shape      `json:"-"`
	Sloped bool       `json:"sloped"`
}

// Result итог опроса террейна для одного тела
type Result struct {
	Contacts   []Contact `json:"contacts"`
	Submersion float32   `json:"submersion"` // доля погружения 0..1
}

// Collision попадание луча в террейн
type Collision struct {
	Fraction float32    `json:"fraction"`
	Point    mgl32.Vec3 `json:"point"`
	Normal   mgl32.Vec3 `json:"normal"`
	Tile     vec.Vec3   `json:"tile"`
}

// TerrainCollider отвечает на запросы столкновений с террейном.
// Не потокобезопасен, как и источник вокселей.
type TerrainCollider struct {
	terrain Terrain
	shapes  *ShapeTable
}

// NewTerrainCollider создаёт коллайдер над источником вокселей
func NewTerrainCollider(t Terrain) *TerrainCollider {
	return &TerrainCollider{terrain: t}
}

// Shapes возвращает таблицу оболочек, перестраивая её при смене размера тайла
func (c *TerrainCollider) Shapes() *ShapeTable {
	size := c.terrain.TileWidth()
	if c.shapes == nil || c.shapes.TileSize() != size {
		c.shapes = NewShapeTable(size)
	}
	return c.shapes
}

// TileShape возвращает оболочку тайла; пустые, жидкие и тайлы без
// материала оболочки не имеют
func (c *TerrainCollider) TileShape(v voxel.Voxel) (Shape, bool) {
	if v.Type == 0 {
		return Shape{}, false
	}
	m := c.terrain.Material(uint32(v.Type))
	if m == nil || m.Class.IsLiquid() {
		return Shape{}, false
	}
	return c.Shapes().ForVoxel(v, m), true
}

// Query собирает контакты тела с твёрдыми тайлами и долю его погружения
func (c *TerrainCollider) Query(box AABB) Result {
	tw := c.terrain.TileWidth()
	shapes := c.Shapes()
	tiles := box.Tiles(tw)
	size := tiles.Max.Sub(tiles.Min).Add(vec.Splat3(1))
	voxels := c.terrain.CopyVoxels(tiles.Min, size)

	var res Result
	liquid := 0
	for z := 0; z < size.Z; z++ {
		for y := 0; y < size.Y; y++ {
			for x := 0; x < size.X; x++ {
				v := voxels[x+(y+z*size.Y)*size.X]
				if v.Type == 0 {
					continue
				}
				m := c.terrain.Material(uint32(v.Type))
				if m == nil {
					continue
				}
				if m.Class.IsLiquid() {
					liquid++
					continue
				}
				tile := tiles.Min.Add(vec.New3(x, y, z))
				center := mgl32.Vec3{float32(tile.X) + 0.5, float32(tile.Y) + 0.5, float32(tile.Z) + 0.5}.Mul(tw)
				shape := shapes.ForVoxel(v, m)
				if !shape.Bounds(center).Intersects(box) {
					continue
				}
				res.Contacts = append(res.Contacts, Contact{
					Tile:   tile,
					Center: center,
					Shape:  shape,
					Sloped: m.Class.IsSloped() && v.Hint&(voxel.HintFaceUp|voxel.HintFaceDown) != 0,
				})
			}
		}
	}
	total := size.X * size.Y * size.Z
	res.Submersion = min(1, submersionGain*float32(liquid)/float32(total))
	return res
}

// Contacts возвращает твёрдые тайлы, пересекающие тело
func (c *TerrainCollider) Contacts(box AABB) []Contact {
	return c.Query(box).Contacts
}

// Submersion возвращает долю погружения тела в жидкость
func (c *TerrainCollider) Submersion(box AABB) float32 {
	return c.Query(box).Submersion
}

// CanMoveTo проверяет, что тело после сдвига не пересекает твёрдых тайлов
func (c *TerrainCollider) CanMoveTo(box AABB, offset mgl32.Vec3) bool {
	return len(c.Contacts(box.Translate(offset))) == 0
}

// CastRay пускает луч по террейну. Нормаль направлена от центра
// попавшего тайла к точке попадания.
func (c *TerrainCollider) CastRay(start, end mgl32.Vec3) (Collision, bool) {
	point, tile, ok := c.terrain.IntersectRay(start, end)
	if !ok {
		return Collision{}, false
	}
	tw := c.terrain.TileWidth()
	center := mgl32.Vec3{float32(tile.X) + 0.5, float32(tile.Y) + 0.5, float32(tile.Z) + 0.5}.Mul(tw)
	normal := point.Sub(center)
	if normal.LenSqr() > 0 {
		normal = normal.Normalize()
	}
	return Collision{
		Fraction: point.Sub(start).Len() / (end.Sub(start).Len() + 0.00001),
		Point:    point,
		Normal:   normal,
		Tile:     tile,
	}, true
}

// Gravity смешивает обычную гравитацию и гравитацию в жидкости по доле погружения
func Gravity(normal, liquid mgl32.Vec3, submersion float32) mgl32.Vec3 {
	return liquid.Mul(submersion).Add(normal.Mul(1 - submersion))
}
