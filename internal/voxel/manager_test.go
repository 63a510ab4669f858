package voxel

import (
	"os"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/sectors"
	"github.com/annel0/voxel-terrain/internal/vec"
)

func TestMain(m *testing.M) {
	os.Setenv("TERRAIN_LOG_FILELESS", "1")
	os.Exit(m.Run())
}

const (
	matStone uint8 = 1 // куб
	matSlope uint8 = 2 // склон
	matWater uint8 = 3 // жидкость
	matRock  uint8 = 4 // скруглённый фрактальный
)

// newTestManager мир из 2x2x2 секторов по 16 тайлов шириной 1
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	grid := sectors.NewGrid(2, 16)
	m, err := NewManager(grid, DefaultConfig())
	require.NoError(t, err)

	defs := []struct {
		id    uint8
		class GeometryClass
	}{
		{matStone, ClassCube},
		{matSlope, ClassSloped},
		{matWater, ClassLiquid},
		{matRock, ClassRoundedFractal},
	}
	for _, d := range defs {
		mat := NewMaterial(uint32(d.id))
		mat.Class = d.class
		require.NoError(t, m.InsertMaterial(mat))
	}
	return m
}

func TestManagerDefaults(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, 4, m.BlocksPerLine())
	assert.Equal(t, 16, m.TilesPerLine())
	assert.Equal(t, 4, m.TilesPerBlock())
	assert.Equal(t, float32(1), m.TileWidth())
	assert.Equal(t, 32, m.WorldTiles())
}

func TestSetGetVoxelRoundTrip(t *testing.T) {
	m := newTestManager(t)

	points := []vec.Vec3{{X: 0, Y: 0, Z: 0}, {X: 15, Y: 15, Z: 15}, {X: 16, Y: 0, Z: 3}, {X: 31, Y: 31, Z: 31}, {X: 7, Y: 20, Z: 12}}
	for i, p := range points {
		v := Voxel{Type: uint8(i + 1)}
		require.True(t, m.SetVoxel(p.X, p.Y, p.Z, v))
		assert.Equal(t, v, m.GetVoxel(p.X, p.Y, p.Z), "тайл %v", p)
	}

	// Вне мира: пустой воксель и отказ записи
	assert.Equal(t, Voxel{}, m.GetVoxel(-1, 0, 0))
	assert.Equal(t, Voxel{}, m.GetVoxel(0, 32, 0))
	assert.False(t, m.SetVoxel(32, 0, 0, Voxel{Type: matStone}))
}

func TestSetVoxelIdempotent(t *testing.T) {
	m := newTestManager(t)
	v := Voxel{Type: matStone}

	require.True(t, m.SetVoxel(5, 5, 5, v))
	s, err := m.Sector(vec.New3(0, 0, 0), false)
	require.NoError(t, err)
	require.NotNil(t, s)
	first := s.Block(1, 1, 1)
	assert.Equal(t, uint16(1), first.Stamp)

	// Повторная запись того же значения ничего не помечает
	s.SetDirty(false)
	require.True(t, m.SetVoxel(5, 5, 5, v))
	assert.Equal(t, first, s.Block(1, 1, 1))
	assert.False(t, s.Dirty())
}

func TestSetVoxelFaceBits(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Sector(vec.New3(0, 0, 0), true)
	require.NoError(t, err)

	tests := []struct {
		name  string
		local vec.Vec3
		block vec.Vec3
		dirty uint8
	}{
		{"внутренний", vec.New3(5, 6, 5), vec.New3(1, 1, 1), DirtyExplicit},
		{"минус X", vec.New3(4, 5, 6), vec.New3(1, 1, 1), DirtyExplicit | DirtyNegX},
		{"плюс Y", vec.New3(9, 11, 9), vec.New3(2, 2, 2), DirtyExplicit | DirtyPosY},
		{"угол", vec.New3(12, 12, 15), vec.New3(3, 3, 3), DirtyExplicit | DirtyNegX | DirtyNegY | DirtyPosZ},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, s.SetVoxel(tt.local.X, tt.local.Y, tt.local.Z, Voxel{Type: matStone}))
			assert.Equal(t, tt.dirty, s.Block(tt.block.X, tt.block.Y, tt.block.Z).Dirty)
			assert.True(t, s.Dirty())
		})
	}
}

func TestSetVoxelHintOnly(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.SetVoxel(1, 1, 1, Voxel{Type: matSlope}))
	m.Update()

	s, _ := m.Sector(vec.New3(0, 0, 0), false)
	before := s.Block(0, 0, 0)
	assert.False(t, s.SetVoxel(1, 1, 1, Voxel{Type: matSlope, Hint: HintFaceUp}))
	assert.Equal(t, Voxel{Type: matSlope, Hint: HintFaceUp}, s.Voxel(1, 1, 1))
	assert.Equal(t, before, s.Block(0, 0, 0))
}

func TestConfigure(t *testing.T) {
	m := newTestManager(t)

	assert.ErrorIs(t, m.Configure(3, 16), ErrBadGrid)
	assert.ErrorIs(t, m.Configure(0, 16), ErrBadGrid)
	require.NoError(t, m.Configure(2, 8))
	assert.Equal(t, 4, m.TilesPerBlock())
	assert.Equal(t, float32(2), m.TileWidth())

	m.GetVoxel(0, 0, 0)
	assert.ErrorIs(t, m.Configure(4, 16), ErrPopulated)
}

func TestNewManagerRejectsBadGrid(t *testing.T) {
	_, err := NewManager(sectors.NewGrid(2, 16), Config{BlocksPerLine: 5, TilesPerLine: 16})
	assert.ErrorIs(t, err, ErrBadGrid)
}

func TestFillSector(t *testing.T) {
	m := newTestManager(t)
	m.SetFill(matStone)

	s, err := m.Sector(vec.New3(1, 0, 0), true)
	require.NoError(t, err)
	assert.False(t, s.Empty())
	assert.Equal(t, Voxel{Type: matStone}, s.Voxel(7, 7, 7))
	assert.Equal(t, DirtyAll, s.Block(2, 3, 0).Dirty)
	assert.True(t, s.Dirty())

	m.SetFill(0)
	empty, err := m.Sector(vec.New3(0, 1, 0), true)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	assert.False(t, empty.Dirty())
}

func TestCopyVoxelsHalo(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.SetVoxel(0, 0, 0, Voxel{Type: matStone}))

	buf := m.CopyVoxels(vec.New3(-1, -1, -1), vec.New3(3, 3, 3))
	require.Len(t, buf, 27)
	for i, v := range buf {
		if i == 13 {
			assert.Equal(t, matStone, v.Type)
			continue
		}
		assert.Equal(t, uint8(0), v.Type, "ячейка %d", i)
	}
}

func TestCopyVoxelsDoesNotCreateSectors(t *testing.T) {
	m := newTestManager(t)
	buf := m.CopyVoxels(vec.New3(10, 10, 10), vec.New3(10, 10, 10))
	assert.Len(t, buf, 1000)
	assert.Equal(t, 0, m.Grid().Len())
}

func TestCopyVoxelsDegenerateSize(t *testing.T) {
	m := newTestManager(t)
	// Произведение двух отрицательных сторон положительно, но область пуста
	for _, size := range []vec.Vec3{vec.New3(-2, -2, 1), vec.New3(-1, 1, 1), vec.New3(0, 4, 4)} {
		assert.NotPanics(t, func() {
			assert.Empty(t, m.CopyVoxels(vec.New3(0, 0, 0), size), "size %v", size)
		})
	}
	assert.Equal(t, 0, m.Grid().Len())
}

func TestPasteVoxelsAcrossSectors(t *testing.T) {
	m := newTestManager(t)
	brush := []Voxel{{Type: 1}, {Type: 2}, {Type: 3}, {Type: 4}}

	require.NoError(t, m.PasteVoxels(vec.New3(14, 0, 0), vec.New3(4, 1, 1), brush))
	assert.Equal(t, 2, m.Grid().Len())
	for i, v := range brush {
		assert.Equal(t, v, m.GetVoxel(14+i, 0, 0))
	}

	// Часть кисти за пределами мира отбрасывается
	require.NoError(t, m.PasteVoxels(vec.New3(30, 0, 0), vec.New3(4, 1, 1), brush))
	assert.Equal(t, brush[0], m.GetVoxel(30, 0, 0))
	assert.Equal(t, brush[1], m.GetVoxel(31, 0, 0))

	assert.Error(t, m.PasteVoxels(vec.New3(0, 0, 0), vec.New3(2, 2, 2), brush))

	out := m.CopyVoxels(vec.New3(14, 0, 0), vec.New3(4, 1, 1))
	assert.Equal(t, brush, out)
}

// dirtyBlocks возвращает ненулевые маски блоков сектора
func dirtyBlocks(s *Sector) map[vec.Vec3]uint8 {
	out := make(map[vec.Vec3]uint8)
	n := s.BlocksPerLine()
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				if d := s.Block(x, y, z).Dirty; d != 0 {
					out[vec.New3(x, y, z)] = d
				}
			}
		}
	}
	return out
}

func TestMarkUpdatesFaceNeighbor(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.SetVoxel(3, 5, 5, Voxel{Type: matStone}))

	m.MarkUpdates()
	s, _ := m.Sector(vec.New3(0, 0, 0), false)
	assert.Equal(t, map[vec.Vec3]uint8{
		vec.New3(0, 1, 1): DirtyExplicit | DirtyPosX,
		vec.New3(1, 1, 1): DirtyPropagated,
	}, dirtyBlocks(s))
}

func TestMarkUpdatesCorner(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.SetVoxel(7, 7, 7, Voxel{Type: matStone}))

	m.MarkUpdates()
	s, _ := m.Sector(vec.New3(0, 0, 0), false)
	got := dirtyBlocks(s)
	require.Len(t, got, 8)
	assert.Equal(t, DirtyExplicit|DirtyPosX|DirtyPosY|DirtyPosZ, got[vec.New3(1, 1, 1)])
	for _, p := range []vec.Vec3{
		{X: 2, Y: 1, Z: 1}, {X: 1, Y: 2, Z: 1}, {X: 1, Y: 1, Z: 2}, {X: 2, Y: 2, Z: 1}, {X: 2, Y: 1, Z: 2}, {X: 1, Y: 2, Z: 2}, {X: 2, Y: 2, Z: 2},
	} {
		assert.Equal(t, DirtyPropagated, got[p], "блок %v", p)
	}
}

func TestMarkUpdatesAcrossSectors(t *testing.T) {
	m := newTestManager(t)
	m.GetVoxel(16, 0, 0) // загружаем соседний сектор
	require.True(t, m.SetVoxel(15, 5, 5, Voxel{Type: matStone}))

	m.MarkUpdates()
	right, _ := m.Sector(vec.New3(1, 0, 0), false)
	require.NotNil(t, right)
	assert.True(t, right.Dirty())
	assert.Equal(t, map[vec.Vec3]uint8{vec.New3(0, 1, 1): DirtyPropagated}, dirtyBlocks(right))

	// Незагруженные соседи не создаются
	assert.Equal(t, 2, m.Grid().Len())
}

func TestUpdateMarkedClearsDirt(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.SetVoxel(3, 5, 5, Voxel{Type: matStone}))

	var loaded []BlockAddress
	m.OnBlockLoad(func(addr BlockAddress) { loaded = append(loaded, addr) })

	assert.Equal(t, 2, m.Update())
	s, _ := m.Sector(vec.New3(0, 0, 0), false)
	assert.Empty(t, dirtyBlocks(s))
	assert.False(t, s.Dirty())
	assert.ElementsMatch(t, []BlockAddress{
		{Block: [3]uint8{0, 1, 1}},
		{Block: [3]uint8{1, 1, 1}},
	}, loaded)

	assert.Equal(t, 0, m.Update())
}

func TestBlockFreeCallbacks(t *testing.T) {
	m := newTestManager(t)
	m.GetVoxel(0, 0, 0)

	freed := 0
	m.OnBlockFree(func(BlockAddress) { freed++ })
	m.Grid().Remove(0)
	assert.Equal(t, 64, freed)

	m.GetVoxel(20, 0, 0)
	m.Close()
	assert.Equal(t, 128, freed)
}

func TestFindVoxel(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.SetVoxel(3, 3, 3, Voxel{Type: matStone}))
	require.True(t, m.SetVoxel(6, 3, 3, Voxel{Type: matWater}))

	v, at, ok := m.FindVoxel(FindFull, mgl32.Vec3{5.9, 3.5, 3.5}, 4)
	require.True(t, ok)
	assert.Equal(t, vec.New3(6, 3, 3), at)
	assert.Equal(t, matWater, v.Type)

	// Первое найденное на минимальном расстоянии
	_, at, ok = m.FindVoxel(FindEmpty, mgl32.Vec3{3.5, 3.5, 3.5}, 1)
	require.True(t, ok)
	assert.Equal(t, vec.New3(3, 3, 2), at)

	// Радиус меньше тайла поднимается до ширины тайла
	_, at, ok = m.FindVoxel(FindAll, mgl32.Vec3{3.5, 3.5, 3.5}, 0)
	require.True(t, ok)
	assert.Equal(t, vec.New3(3, 3, 3), at)

	_, _, ok = m.FindVoxel(FindFull, mgl32.Vec3{20.5, 20.5, 20.5}, 2)
	assert.False(t, ok)
}

func TestIntersectRay(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.SetVoxel(3, 2, 2, Voxel{Type: matWater}))
	require.True(t, m.SetVoxel(5, 2, 2, Voxel{Type: matStone}))
	require.True(t, m.SetVoxel(8, 2, 2, Voxel{Type: 99})) // без материала

	point, tile, ok := m.IntersectRay(mgl32.Vec3{0.5, 2.5, 2.5}, mgl32.Vec3{10.5, 2.5, 2.5})
	require.True(t, ok)
	assert.Equal(t, vec.New3(5, 2, 2), tile)
	assert.GreaterOrEqual(t, point.X(), float32(5))
	assert.Less(t, point.X(), float32(5.06))

	// Начало за пределами мира пропускается, а не считается твёрдым
	_, tile, ok = m.IntersectRay(mgl32.Vec3{-3, 2.5, 2.5}, mgl32.Vec3{10.5, 2.5, 2.5})
	require.True(t, ok)
	assert.Equal(t, vec.New3(5, 2, 2), tile)

	_, _, ok = m.IntersectRay(mgl32.Vec3{0.5, 8.5, 2.5}, mgl32.Vec3{10.5, 8.5, 2.5})
	assert.False(t, ok)

	_, _, ok = m.IntersectRay(mgl32.Vec3{6.5, 2.5, 2.5}, mgl32.Vec3{10.5, 2.5, 2.5})
	assert.False(t, ok)
}

func TestMaterialOperations(t *testing.T) {
	m := newTestManager(t)

	assert.False(t, m.CheckOccluder(Voxel{Type: matStone}))
	occ := NewMaterial(uint32(matStone))
	occ.Flags |= FlagOccluder
	require.NoError(t, m.InsertMaterial(occ))
	assert.True(t, m.CheckOccluder(Voxel{Type: matStone}))
	assert.False(t, m.CheckOccluder(Voxel{}))
	assert.False(t, m.CheckOccluder(Voxel{Type: 77}))

	assert.Len(t, m.Materials(), 4)
	m.RemoveMaterial(uint32(matWater))
	assert.Nil(t, m.Material(uint32(matWater)))
	m.ClearMaterials()
	assert.Empty(t, m.Materials())
}

func TestGeometryClassText(t *testing.T) {
	for c := ClassCube; c <= ClassSlopedFractal; c++ {
		text, err := c.MarshalText()
		require.NoError(t, err)
		var back GeometryClass
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, c, back)
	}
	_, err := GeometryClass(42).MarshalText()
	assert.Error(t, err)
	var c GeometryClass
	assert.Error(t, c.UnmarshalText([]byte("jelly")))
}

func TestManagerMemory(t *testing.T) {
	m := newTestManager(t)
	base := m.Memory()

	m.GetVoxel(0, 0, 0)
	s, _ := m.Sector(vec.New3(0, 0, 0), false)
	assert.Equal(t, base+s.Memory(), m.Memory())
	assert.Greater(t, s.Memory(), 16*16*16*2)
}
