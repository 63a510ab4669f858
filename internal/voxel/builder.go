package voxel

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// Builder строит меш области тайлов. Воксели и материалы копируются при
// создании, поэтому после этого построитель не обращается к менеджеру.
type Builder struct {
	Origin vec.Vec3 // абсолютная координата первого тайла области
	Size   vec.Vec3

	region       *Region
	materials    MaterialTable
	triangulator *Triangulator
	count        int
}

// NewBuilder готовит построение области тайлов с ореолом в один тайл
func (m *Manager) NewBuilder(origin, size vec.Vec3) *Builder {
	b := &Builder{
		Origin:       origin,
		Size:         size,
		materials:    m.materials.Snapshot(),
		triangulator: &Triangulator{TileWidth: m.TileWidth(), Fractal: m.fractal},
	}
	halo := origin.Sub(vec.Splat3(1))
	full := size.Add(vec.Splat3(2))
	b.region = NewRegion(halo, full, m.CopyVoxels(halo, full), &b.materials)
	for z := 1; z < full.Z-1; z++ {
		for y := 1; y < full.Y-1; y++ {
			for x := 1; x < full.X-1; x++ {
				if b.region.Material(x, y, z) != nil {
					b.count++
				}
			}
		}
	}
	return b
}

// BlockBuilder готовит построение одного блока
func (m *Manager) BlockBuilder(addr BlockAddress) *Builder {
	tpb := m.TilesPerBlock()
	origin := addr.SectorCoord().Mul(m.tilesPerLine).Add(addr.BlockCoord().Mul(tpb))
	return m.NewBuilder(origin, vec.Splat3(tpb))
}

// Count количество вокселей области, имеющих материал
func (b *Builder) Count() int { return b.count }

// Build триангулирует все воксели области и передаёт треугольники в dst.
// Возвращает количество вставленных треугольников.
func (b *Builder) Build(dst MeshContainer) (int, error) {
	if b.count == 0 {
		return 0, nil
	}
	tw := b.triangulator.TileWidth
	total := 0
	for z := 1; z <= b.Size.Z; z++ {
		for y := 1; y <= b.Size.Y; y++ {
			for x := 1; x <= b.Size.X; x++ {
				mat := b.region.Material(x, y, z)
				if mat == nil {
					continue
				}
				abs := b.region.Origin.Add(vec.New3(x, y, z))
				position := mgl32.Vec3{float32(abs.X), float32(abs.Y), float32(abs.Z)}.Mul(tw)

				patch := b.triangulator.Triangulate(b.region.Window(x, y, z), position)
				for _, tri := range patch.Triangles {
					v := b.vertices(mat, &patch, tri, position)
					if err := dst.InsertFace(mat, tri.Face, v); err != nil {
						return total, fmt.Errorf("voxel: insert face of tile %v: %w", abs, err)
					}
					total++
				}
			}
		}
	}
	return total, nil
}

var splatRegions = [4]int{0, 1, 1, 2}

// vertices переводит треугольник в мировые координаты и считает нормаль,
// текстурные координаты, затенение и сплаттинг
func (b *Builder) vertices(mat *Material, patch *Patch, tri Triangle, position mgl32.Vec3) [3]Vertex {
	tw := b.triangulator.TileWidth
	var world [3]mgl32.Vec3
	for j := range world {
		world[j] = tri.V[j].Mul(tw).Add(position)
	}
	normal := world[0].Sub(world[1]).Cross(world[1].Sub(world[2])).Normalize()
	scale := mat.TextureScale
	self := patch.Types[1][1][1]

	var out [3]Vertex
	for j := range out {
		local := tri.V[j]

		// Вершина рядом с другим материалом смешивает текстуры
		splat := uint8(255)
		var r [3]int
		for a := 0; a < 3; a++ {
			r[a] = clampInt(int(local[a]/0.34), 0, 2)
		}
	scan:
		for z := splatRegions[r[2]]; z <= splatRegions[r[2]+1]; z++ {
			for y := splatRegions[r[1]]; y <= splatRegions[r[1]+1]; y++ {
				for x := splatRegions[r[0]]; x <= splatRegions[r[0]+1]; x++ {
					if t := patch.Types[x][y][z]; t != 0 && t != self {
						splat = 0
						break scan
					}
				}
			}
		}

		ao := float32(0)
		for z := 0; z < 3; z++ {
			for y := 0; y < 3; y++ {
				for x := 0; x < 3; x++ {
					if x == 1 && y == 1 && z == 1 {
						continue
					}
					if !b.solidNeighbor(patch, x, y, z) {
						continue
					}
					diff := mgl32.Vec3{float32(x) - 0.5, float32(y) - 0.5, float32(z) - 0.5}.Sub(local)
					l := diff.Len()
					if l == 0 {
						continue
					}
					dot := diff.Mul(1 / l).Dot(normal)
					if dot >= 0 {
						ao += 0.6 * dot * (1 - min(l/1.7, 1))
					}
				}
			}
		}
		ao = mgl32.Clamp(ao, 0, 1)
		shade := uint8(255 * (1 - ao))

		p := world[j]
		var uv mgl32.Vec2
		switch tri.Face {
		case FaceNegX, FacePosX:
			uv = mgl32.Vec2{scale * p[2], scale * p[1]}
		case FaceNegY:
			uv = mgl32.Vec2{scale * p[0], scale * p[2]}
		case FacePosY:
			uv = mgl32.Vec2{-scale * p[0], scale * p[2]}
		default:
			uv = mgl32.Vec2{scale * p[0], scale * p[1]}
		}

		out[j] = Vertex{
			Position: p,
			Normal:   normal,
			UV:       uv,
			Color:    [4]uint8{shade, shade, shade, splat},
		}
	}
	return out
}

func (b *Builder) solidNeighbor(patch *Patch, x, y, z int) bool {
	t := patch.Types[x][y][z]
	if t == 0 {
		return false
	}
	m := b.materials[t]
	return m != nil && !m.Class.IsLiquid()
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
