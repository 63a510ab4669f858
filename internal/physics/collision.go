package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// AABB выровненный по осям параллелепипед в мировых координатах
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// NewAABB создаёт коллайдер по центру и половине размеров
func NewAABB(center, half mgl32.Vec3) AABB {
	return AABB{Min: center.Sub(half), Max: center.Add(half)}
}

// Contains проверяет, находится ли точка внутри коллайдера
func (a AABB) Contains(p mgl32.Vec3) bool {
	return p[0] >= a.Min[0] && p[0] < a.Max[0] &&
		p[1] >= a.Min[1] && p[1] < a.Max[1] &&
		p[2] >= a.Min[2] && p[2] < a.Max[2]
}

// Intersects проверяет пересечение двух коллайдеров
func (a AABB) Intersects(b AABB) bool {
	return a.Max[0] > b.Min[0] && a.Min[0] < b.Max[0] &&
		a.Max[1] > b.Min[1] && a.Min[1] < b.Max[1] &&
		a.Max[2] > b.Min[2] && a.Min[2] < b.Max[2]
}

// Translate возвращает коллайдер, сдвинутый на offset
func (a AABB) Translate(offset mgl32.Vec3) AABB {
	return AABB{Min: a.Min.Add(offset), Max: a.Max.Add(offset)}
}

// Tiles возвращает диапазон тайлов, которых касается коллайдер
func (a AABB) Tiles(tileSize float32) vec.Box3 {
	floor := func(f float32) int { return int(math.Floor(float64(f / tileSize))) }
	return vec.Box3{
		Min: vec.New3(floor(a.Min[0]), floor(a.Min[1]), floor(a.Min[2])),
		Max: vec.New3(floor(a.Max[0]), floor(a.Max[1]), floor(a.Max[2])),
	}
}
