package worldgen

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/sectors"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

func TestMain(m *testing.M) {
	os.Setenv("TERRAIN_LOG_FILELESS", "1")
	os.Exit(m.Run())
}

var testMaterials = Materials{Stone: 1, Soil: 2, Water: 3}

func TestHeightDeterministic(t *testing.T) {
	a := NewHeightMap(42, testMaterials)
	b := NewHeightMap(42, testMaterials)
	for x := 0; x < 64; x += 7 {
		for z := 0; z < 64; z += 5 {
			h := a.Height(x, z)
			assert.Equal(t, h, b.Height(x, z))
			assert.GreaterOrEqual(t, h, a.BaseHeight-a.Amplitude)
			assert.LessOrEqual(t, h, a.BaseHeight+a.Amplitude)
		}
	}
}

func TestVoxelAtLayers(t *testing.T) {
	h := NewHeightMap(1, testMaterials)
	h.WaterLevel = 10
	h.SoilDepth = 2

	tests := []struct {
		name      string
		y, height int
		want      uint8
	}{
		{"глубина", 3, 8, 1},
		{"граница камня", 6, 8, 1},
		{"почва", 7, 8, 2},
		{"поверхность", 8, 8, 2},
		{"вода", 9, 8, 3},
		{"уровень воды", 10, 8, 3},
		{"воздух", 11, 8, 0},
		{"над сушей", 13, 12, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.VoxelAt(tt.y, tt.height).Type)
		})
	}
}

func TestFillSector(t *testing.T) {
	m, err := voxel.NewManager(sectors.NewGrid(4, 16), voxel.DefaultConfig())
	require.NoError(t, err)
	h := NewHeightMap(7, testMaterials)
	h.BaseHeight = 20
	h.Amplitude = 4
	h.WaterLevel = -1

	// Сектор y=1 покрывает тайлы 16..31, поверхность проходит через него
	s, err := m.Sector(vec.New3(0, 1, 0), true)
	require.NoError(t, err)
	require.True(t, h.Fill(s))

	for x := 0; x < 16; x += 5 {
		for z := 0; z < 16; z += 5 {
			height := h.Height(x, z)
			assert.NotZero(t, s.Voxel(x, height-16, z).Type, "поверхность (%d,%d)", x, z)
			assert.Zero(t, s.Voxel(x, height-15, z).Type, "над поверхностью (%d,%d)", x, z)
		}
	}
	assert.True(t, s.Dirty())

	// Сектор высоко над поверхностью остаётся пустым
	sky, err := m.Sector(vec.New3(0, 3, 0), true)
	require.NoError(t, err)
	assert.False(t, h.Fill(sky))
	assert.True(t, sky.Empty())
}
