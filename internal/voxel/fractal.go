package voxel

import "github.com/go-gl/mathgl/mgl32"

// FractalParams константы детерминированного шума фрактальных поверхностей.
// Подобраны эмпирически; их изменение меняет внешний вид существующих миров.
type FractalParams struct {
	Amplitude  float32
	SeedScale  mgl32.Vec3
	SeedOffset mgl32.Vec3
}

// DefaultFractal исходные значения шума
var DefaultFractal = FractalParams{
	Amplitude:  0.3,
	SeedScale:  mgl32.Vec3{0.8, 0.7, 0.9},
	SeedOffset: mgl32.Vec3{234023.3, 8353.7, 27345.11},
}

const (
	lcgA   uint32 = 1103515245
	lcgC   uint32 = 12345
	lcgMax        = 0x7FFFFFFE
)

// Offset возвращает смещение точки решётки по её мировой позиции.
// Одинаковая позиция всегда даёт одинаковое смещение.
func (p FractalParams) Offset(point mgl32.Vec3) mgl32.Vec3 {
	seed := (seedComponent(p.SeedScale[0]*point[0]+p.SeedOffset[0]) % 0x3FF) |
		(seedComponent(p.SeedScale[1]*point[1]+p.SeedOffset[1])%0x3FF)<<10 |
		(seedComponent(p.SeedScale[2]*point[2]+p.SeedOffset[2])%0x3FF)<<20

	r := mgl32.Vec3{lcgFloat(1 + seed), lcgFloat(2 + seed), lcgFloat(3 + seed)}
	return r.Sub(mgl32.Vec3{0.5, 0.5, 0.5}).Mul(p.Amplitude)
}

func seedComponent(f float32) uint32 {
	return uint32(int64(f))
}

// lcgFloat первый выход линейного конгруэнтного генератора с заданным зерном
func lcgFloat(seed uint32) float32 {
	if seed == 0 {
		seed = 1
	}
	state := (lcgA*seed + lcgC) & 0x7FFFFFFF
	return float32(float64(state) / lcgMax)
}
