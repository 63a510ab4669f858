// Package worldgen заполняет свежие секторы рельефом по карте высот из шума Перлина.
package worldgen

import (
	"math"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/voxel-terrain/internal/voxel"
)

// Materials типы вокселей, которыми заполняется рельеф
type Materials struct {
	Stone uint8 `yaml:"stone"` // толща под поверхностью
	Soil  uint8 `yaml:"soil"`  // верхние слои
	Water uint8 `yaml:"water"` // всё пустое ниже уровня воды
}

// HeightMap генерирует рельеф. Детерминирован для одного сида.
type HeightMap struct {
	Seed       int64
	NoiseScale float64 // масштаб шума в тайлах
	BaseHeight int     // средняя высота поверхности в тайлах
	Amplitude  int     // размах высот вокруг BaseHeight
	WaterLevel int     // тайлы не выше этого уровня заливаются водой; <0 без воды
	SoilDepth  int
	Materials  Materials

	noise *perlin.Perlin
}

// NewHeightMap создаёт генератор с настройками по умолчанию
func NewHeightMap(seed int64, mats Materials) *HeightMap {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &HeightMap{
		Seed:       seed,
		NoiseScale: 0.03,
		BaseHeight: 24,
		Amplitude:  12,
		WaterLevel: 20,
		SoilDepth:  3,
		Materials:  mats,
		noise:      perlin.NewPerlin(alpha, beta, n, seed),
	}
}

// Height возвращает высоту поверхности в столбце (x, z): верхний непустой тайл
func (h *HeightMap) Height(x, z int) int {
	// Сумма октав может выйти за -1..1
	v := h.noise.Noise2D(float64(x)*h.NoiseScale, float64(z)*h.NoiseScale)
	v = math.Max(-1, math.Min(1, v))
	return h.BaseHeight + int(math.Round(v*float64(h.Amplitude)))
}

// VoxelAt возвращает воксель на высоте y в столбце с поверхностью height
func (h *HeightMap) VoxelAt(y, height int) voxel.Voxel {
	switch {
	case y > height:
		if y <= h.WaterLevel {
			return voxel.Voxel{Type: h.Materials.Water}
		}
		return voxel.Voxel{}
	case y > height-h.SoilDepth:
		return voxel.Voxel{Type: h.Materials.Soil}
	default:
		return voxel.Voxel{Type: h.Materials.Stone}
	}
}

// Fill заполняет сектор рельефом. Возвращает true, если записан хоть
// один непустой воксель.
func (h *HeightMap) Fill(s *voxel.Sector) bool {
	n := s.TilesPerLine()
	origin := s.TileOffset()
	filled := false
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			height := h.Height(origin.X+x, origin.Z+z)
			for y := 0; y < n; y++ {
				v := h.VoxelAt(origin.Y+y, height)
				if v.Type == 0 {
					continue
				}
				s.SetVoxel(x, y, z, v)
				filled = true
			}
		}
	}
	return filled
}
