package voxel

import (
	"github.com/go-gl/mathgl/mgl32"
)

// lattice точки деформированного куба 3x3x3 в единицах тайла, [x][y][z]
type lattice [3][3][3]mgl32.Vec3

func baseLattice() lattice {
	var v lattice
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			for c := 0; c < 3; c++ {
				v[a][b][c] = mgl32.Vec3{float32(a) * 0.5, float32(b) * 0.5, float32(c) * 0.5}
			}
		}
	}
	return v
}

// Triangle треугольник в локальных координатах тайла (0..1 по каждой оси
// до деформации) с гранью, из которой он получен
type Triangle struct {
	V    [3]mgl32.Vec3
	Face Face
}

// Patch результат триангуляции одного вокселя
type Patch struct {
	Triangles []Triangle
	Types     [3][3][3]uint8 // типы окрестности для сплат-маппинга
}

// Triangulator строит треугольники одного вокселя по окрестности 3x3x3
type Triangulator struct {
	TileWidth float32
	Fractal   FractalParams
}

// NewTriangulator создаёт триангулятор с шумом по умолчанию
func NewTriangulator(tileWidth float32) *Triangulator {
	return &Triangulator{TileWidth: tileWidth, Fractal: DefaultFractal}
}

const (
	collapseEpsilon = 1e-5
	areaEpsilon     = 1e-7
)

// Triangulate возвращает видимые треугольники центрального вокселя.
// position мировая позиция начала тайла, нужна только фрактальным материалам.
func (t *Triangulator) Triangulate(w *Window, position mgl32.Vec3) Patch {
	patch := Patch{Types: w.Types()}
	center := w.Center()
	if center.Material == nil {
		return patch
	}

	// Полностью окружённый твёрдыми соседями тайл невидим
	solid := 0
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 3; z++ {
				if w.solid(x, y, z) {
					solid++
				}
			}
		}
	}
	if solid == 27 {
		return patch
	}

	v := baseLattice()
	liquid := false
	switch center.Material.Class {
	case ClassLiquid:
		liquid = true
		applySlope(&v, slopeHint(w, testEmpty, false))
	case ClassRounded:
		roundLattice(w, &v)
	case ClassRoundedFractal:
		roundLattice(w, &v)
		t.fractalize(w, &v, position)
	case ClassSloped:
		applySlope(&v, center.Voxel.Hint)
	case ClassSlopedFractal:
		applySlope(&v, center.Voxel.Hint)
		t.fractalize(w, &v, position)
	}

	occluded := func(x, y, z int) bool {
		if liquid {
			return w.filled(x, y, z)
		}
		return w.solid(x, y, z)
	}
	// Поверхность жидкости скрывается только другой жидкостью сверху
	occludedTop := func(x, y, z int) bool {
		if liquid {
			return w.liquid(x, y, z)
		}
		return w.solid(x, y, z)
	}

	for _, f := range faceSpecs {
		hidden := occluded(f.nx, f.ny, f.nz)
		if f.face == FacePosY {
			hidden = occludedTop(f.nx, f.ny, f.nz)
		}
		if hidden {
			continue
		}
		patch.Triangles = emitFace(patch.Triangles, &v, f)
	}
	return patch
}

// faceSpec описывает грань куба: соседа за ней, точки решётки по двум
// параметрам грани и порядок обхода треугольников
type faceSpec struct {
	face       Face
	nx, ny, nz int
	point      func(v *lattice, i, j int) mgl32.Vec3
	windings   [2][3][2]int
}

var (
	// обход для -X, +Y, -Z
	windingA = [2][3][2]int{{{0, 0}, {1, 1}, {1, 0}}, {{0, 0}, {0, 1}, {1, 1}}}
	// обход для +X, -Y, +Z
	windingB = [2][3][2]int{{{0, 0}, {1, 0}, {1, 1}}, {{0, 0}, {1, 1}, {0, 1}}}
)

var faceSpecs = [...]faceSpec{
	{FaceNegX, 0, 1, 1, func(v *lattice, i, j int) mgl32.Vec3 { return v[0][i][j] }, windingA},
	{FacePosX, 2, 1, 1, func(v *lattice, i, j int) mgl32.Vec3 { return v[2][i][j] }, windingB},
	{FaceNegY, 1, 0, 1, func(v *lattice, i, j int) mgl32.Vec3 { return v[i][0][j] }, windingB},
	{FacePosY, 1, 2, 1, func(v *lattice, i, j int) mgl32.Vec3 { return v[i][2][j] }, windingA},
	{FaceNegZ, 1, 1, 0, func(v *lattice, i, j int) mgl32.Vec3 { return v[i][j][0] }, windingA},
	{FacePosZ, 1, 1, 2, func(v *lattice, i, j int) mgl32.Vec3 { return v[i][j][2] }, windingB},
}

// emitFace добавляет треугольники грани. Плоская грань, все точки которой
// лежат на билинейной интерполяции углов, сворачивается в один квад.
func emitFace(out []Triangle, v *lattice, f faceSpec) []Triangle {
	var g [3][3]mgl32.Vec3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			g[i][j] = f.point(v, i, j)
		}
	}

	step := 1
	if collapsible(&g) {
		step = 2
	}
	for i := 0; i < 2; i += step {
		for j := 0; j < 2; j += step {
			for _, tri := range f.windings {
				var t Triangle
				t.Face = f.face
				for k, ij := range tri {
					t.V[k] = g[i+ij[0]*step][j+ij[1]*step]
				}
				if degenerate(t.V) {
					continue
				}
				out = append(out, t)
			}
		}
	}
	return out
}

func collapsible(g *[3][3]mgl32.Vec3) bool {
	g00, g20, g02, g22 := g[0][0], g[2][0], g[0][2], g[2][2]

	// Углы должны лежать в одной плоскости
	n := g20.Sub(g00).Cross(g02.Sub(g00))
	if abs32(n.Dot(g22.Sub(g00))) > collapseEpsilon {
		return false
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			u, w := float32(i)*0.5, float32(j)*0.5
			want := g00.Mul((1 - u) * (1 - w)).
				Add(g20.Mul(u * (1 - w))).
				Add(g02.Mul((1 - u) * w)).
				Add(g22.Mul(u * w))
			if !g[i][j].ApproxEqualThreshold(want, collapseEpsilon) {
				return false
			}
		}
	}
	return true
}

func degenerate(v [3]mgl32.Vec3) bool {
	return v[1].Sub(v[0]).Cross(v[2].Sub(v[0])).LenSqr() < areaEpsilon*areaEpsilon
}

// roundLattice скругляет углы и рёбра, открытые в пустоту или жидкость
func roundLattice(w *Window, v *lattice) {
	le := w.liquidEmpty
	ler := w.liquidEmptyRounded

	// Углы
	for _, cx := range [2]int{0, 2} {
		for _, cy := range [2]int{0, 2} {
			for _, cz := range [2]int{0, 2} {
				if le(cx, cy, cz) &&
					ler(1, cy, cz) && ler(cx, 1, cz) && ler(1, 1, cz) &&
					ler(cx, cy, 1) && ler(1, cy, 1) && ler(cx, 1, 1) {
					smoothCorner(w, v, cx, cy, cz)
				}
			}
		}
	}

	// Рёбра вдоль X, Y и Z
	for _, a := range [2]int{0, 2} {
		for _, b := range [2]int{0, 2} {
			if le(1, a, b) && le(1, 1, b) && le(1, a, 1) {
				v[1][a][b][2] += inward(b, 0.15)
				v[1][a][b][1] += inward(a, 0.15)
			}
			if le(a, 1, b) && le(1, 1, b) && le(a, 1, 1) {
				v[a][1][b][2] += inward(b, 0.15)
				v[a][1][b][0] += inward(a, 0.15)
			}
			if le(a, b, 1) && le(1, b, 1) && le(a, 1, 1) {
				v[a][b][1][1] += inward(b, 0.15)
				v[a][b][1][0] += inward(a, 0.15)
			}
		}
	}

	// Центры граней не проваливаются внутрь соседних точек
	for axis := 0; axis < 3; axis++ {
		for _, side := range [2]int{0, 2} {
			smoothFace(v, axis, side)
		}
	}
}

// smoothCorner сдвигает угол решётки внутрь вдоль осей, где он открыт
func smoothCorner(w *Window, v *lattice, ox, oy, oz int) {
	le := w.liquidEmpty
	amount := func(n int) float32 {
		switch n {
		case 3:
			return 0.25
		case 2:
			return 0.15
		}
		return 0
	}
	if le(ox, 1, oz) && le(ox, oy, 1) && le(ox, 1, 1) {
		n := b2i(le(1, oy, oz)) + b2i(le(1, 1, oz)) + b2i(le(1, oy, 1))
		v[ox][oy][oz][0] += inward(ox, amount(n))
	}
	if le(1, oy, oz) && le(ox, oy, 1) && le(1, oy, 1) {
		n := b2i(le(ox, 1, oz)) + b2i(le(1, 1, oz)) + b2i(le(ox, 1, 1))
		v[ox][oy][oz][1] += inward(oy, amount(n))
	}
	if le(1, oy, oz) && le(ox, 1, oz) && le(1, 1, oz) {
		n := b2i(le(ox, oy, 1)) + b2i(le(1, oy, 1)) + b2i(le(ox, 1, 1))
		v[ox][oy][oz][2] += inward(oz, amount(n))
	}
}

// smoothFace пересчитывает центр грани как огибающую остальных её точек
func smoothFace(v *lattice, axis, side int) {
	at := func(i, j int) *mgl32.Vec3 {
		switch axis {
		case 0:
			return &v[side][i][j]
		case 1:
			return &v[i][side][j]
		}
		return &v[i][j][side]
	}
	center := at(1, 1)
	value := float32(0.5)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == 1 && j == 1 {
				continue
			}
			p := at(i, j)[axis]
			if side == 0 && p < value {
				value = p
			}
			if side == 2 && p > value {
				value = p
			}
		}
	}
	center[axis] = value
}

// fractalize смещает точки решётки шумом, если все касающиеся их ячейки
// открыты или фрактальны
func (t *Triangulator) fractalize(w *Window, v *lattice, position mgl32.Vec3) {
	ranges := [3][2]int{{0, 1}, {1, 1}, {1, 2}}
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			for c := 0; c < 3; c++ {
				if !t.fractalPoint(w, ranges[a], ranges[b], ranges[c]) {
					continue
				}
				world := v[a][b][c].Mul(t.TileWidth).Add(position)
				v[a][b][c] = v[a][b][c].Add(t.Fractal.Offset(world))
			}
		}
	}
}

func (t *Triangulator) fractalPoint(w *Window, rx, ry, rz [2]int) bool {
	for x := rx[0]; x <= rx[1]; x++ {
		for y := ry[0]; y <= ry[1]; y++ {
			for z := rz[0]; z <= rz[1]; z++ {
				if !w.liquidEmptyFractal(x, y, z) {
					return false
				}
			}
		}
	}
	return true
}

// inward возвращает сдвиг к центру куба для стороны 0 или 2
func inward(side int, amount float32) float32 {
	if side < 1 {
		return amount
	}
	return -amount
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
