package voxel

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
)

// Vertex вершина меша террейна
type Vertex struct {
	Position mgl32.Vec3 `json:"position"`
	Normal   mgl32.Vec3 `json:"normal"`
	Tangent  mgl32.Vec3 `json:"tangent"`
	UV       mgl32.Vec2 `json:"uv"`
	// Color: RGB затенение (255 = полностью освещено), A = коэффициент сплаттинга
	Color [4]uint8 `json:"color"`
}

// MeshContainer принимает треугольники, сгруппированные по материалам
type MeshContainer interface {
	InsertFace(m *Material, face Face, v [3]Vertex) error
}

// MeshGroup треугольники одного материала
type MeshGroup struct {
	Material *Material `json:"material"`
	Vertices []Vertex  `json:"vertices"` // по три на треугольник
	Faces    []Face    `json:"faces"`
}

// Mesh простой контейнер меша. Группы идут в порядке первого появления материала.
type Mesh struct {
	Groups []*MeshGroup `json:"groups"`
	Min    mgl32.Vec3   `json:"min"`
	Max    mgl32.Vec3   `json:"max"`

	index map[uint32]int
}

// ErrFinished возвращается при вставке в уже завершённый меш
var ErrFinished = errors.New("voxel: mesh already finished")

// NewMesh создаёт пустой меш
func NewMesh() *Mesh {
	return &Mesh{index: make(map[uint32]int)}
}

// InsertFace добавляет треугольник в группу материала
func (m *Mesh) InsertFace(mat *Material, face Face, v [3]Vertex) error {
	if mat == nil {
		return ErrNilMaterial
	}
	if m.index == nil {
		return ErrFinished
	}
	i, ok := m.index[mat.ID]
	if !ok {
		i = len(m.Groups)
		m.index[mat.ID] = i
		m.Groups = append(m.Groups, &MeshGroup{Material: mat})
	}
	g := m.Groups[i]
	g.Vertices = append(g.Vertices, v[0], v[1], v[2])
	g.Faces = append(g.Faces, face)
	return nil
}

// TriangleCount возвращает число треугольников во всех группах
func (m *Mesh) TriangleCount() int {
	n := 0
	for _, g := range m.Groups {
		n += len(g.Faces)
	}
	return n
}

// Empty сообщает, что в меше нет треугольников
func (m *Mesh) Empty() bool {
	return m.TriangleCount() == 0
}

// Finish считает границы и касательные. После вызова меш только для чтения.
func (m *Mesh) Finish() {
	first := true
	for _, g := range m.Groups {
		for i := 0; i+2 < len(g.Vertices); i += 3 {
			tangent := triangleTangent(g.Vertices[i : i+3])
			for k := i; k < i+3; k++ {
				g.Vertices[k].Tangent = tangent
				p := g.Vertices[k].Position
				if first {
					m.Min, m.Max = p, p
					first = false
					continue
				}
				for a := 0; a < 3; a++ {
					if p[a] < m.Min[a] {
						m.Min[a] = p[a]
					}
					if p[a] > m.Max[a] {
						m.Max[a] = p[a]
					}
				}
			}
		}
	}
	m.index = nil
}

// triangleTangent касательная по направлению роста U
func triangleTangent(v []Vertex) mgl32.Vec3 {
	e1 := v[1].Position.Sub(v[0].Position)
	e2 := v[2].Position.Sub(v[0].Position)
	d1 := v[1].UV.Sub(v[0].UV)
	d2 := v[2].UV.Sub(v[0].UV)

	det := d1[0]*d2[1] - d2[0]*d1[1]
	if abs32(det) < 1e-8 {
		return e1.Normalize()
	}
	r := 1 / det
	t := e1.Mul(d2[1] * r).Sub(e2.Mul(d1[1] * r))
	if t.LenSqr() == 0 {
		return e1.Normalize()
	}
	return t.Normalize()
}
