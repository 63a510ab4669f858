package voxel

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/sectors"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// Sector воксели и блоки одной ячейки страничной сетки
type Sector struct {
	manager *Manager
	cell    *sectors.Sector

	tiles  int // тайлов на ребро
	bpl    int // блоков на ребро
	dirty  bool
	blocks []Block
	voxels []Voxel
}

func newSector(m *Manager, cell *sectors.Sector) *Sector {
	s := &Sector{
		manager: m,
		cell:    cell,
		tiles:   m.tilesPerLine,
		bpl:     m.blocksPerLine,
		blocks:  make([]Block, m.blocksPerLine*m.blocksPerLine*m.blocksPerLine),
		voxels:  make([]Voxel, m.tilesPerLine*m.tilesPerLine*m.tilesPerLine),
	}
	if m.fill != 0 {
		s.Fill(m.fill)
	}
	return s
}

func (s *Sector) voxelIndex(x, y, z int) int {
	if x < 0 || y < 0 || z < 0 || x >= s.tiles || y >= s.tiles || z >= s.tiles {
		panic(fmt.Sprintf("voxel: local tile (%d,%d,%d) outside sector of %d", x, y, z, s.tiles))
	}
	return x + (y+z*s.tiles)*s.tiles
}

func (s *Sector) blockIndex(x, y, z int) int {
	if x < 0 || y < 0 || z < 0 || x >= s.bpl || y >= s.bpl || z >= s.bpl {
		panic(fmt.Sprintf("voxel: block (%d,%d,%d) outside sector of %d", x, y, z, s.bpl))
	}
	return x + (y+z*s.bpl)*s.bpl
}

// Voxel возвращает воксель по локальной координате тайла
func (s *Sector) Voxel(x, y, z int) Voxel {
	return s.voxels[s.voxelIndex(x, y, z)]
}

// SetVoxel записывает воксель по локальной координате.
// Возвращает true, если изменился тип; тогда блок получает биты граней
// и EXPLICIT, а сектор становится грязным. Смена одной подсказки
// сохраняется без пометок.
func (s *Sector) SetVoxel(x, y, z int, v Voxel) bool {
	i := s.voxelIndex(x, y, z)
	if s.voxels[i].Type == v.Type {
		s.voxels[i].Hint = v.Hint
		return false
	}
	s.voxels[i] = v

	m := s.tiles / s.bpl
	b := &s.blocks[s.blockIndex(x/m, y/m, z/m)]
	x, y, z = x%m, y%m, z%m
	if x == 0 {
		b.Dirty |= DirtyNegX
	}
	if x == m-1 {
		b.Dirty |= DirtyPosX
	}
	if y == 0 {
		b.Dirty |= DirtyNegY
	}
	if y == m-1 {
		b.Dirty |= DirtyPosY
	}
	if z == 0 {
		b.Dirty |= DirtyNegZ
	}
	if z == m-1 {
		b.Dirty |= DirtyPosZ
	}
	b.Dirty |= DirtyExplicit
	b.Stamp++
	s.dirty = true
	return true
}

// Block возвращает копию состояния блока
func (s *Sector) Block(bx, by, bz int) Block {
	return s.blocks[s.blockIndex(bx, by, bz)]
}

// BlocksPerLine блоков на ребро сектора
func (s *Sector) BlocksPerLine() int { return s.bpl }

// TilesPerBlock тайлов на ребро блока
func (s *Sector) TilesPerBlock() int { return s.tiles / s.bpl }

// TilesPerLine тайлов на ребро сектора
func (s *Sector) TilesPerLine() int { return s.tiles }

// Fill заполняет сектор одним типом и помечает все блоки
func (s *Sector) Fill(typ uint8) {
	for i := range s.voxels {
		s.voxels[i] = Voxel{Type: typ}
	}
	for i := range s.blocks {
		s.blocks[i].Dirty = DirtyAll
		s.blocks[i].Stamp++
	}
	s.dirty = true
}

// BuildBlock пересчитывает подсказки блока по текущим вокселям с ореолом
// в один тайл и сообщает о загрузке блока.
func (s *Sector) BuildBlock(bx, by, bz int) {
	table := s.manager.materials.Snapshot()
	s.buildBlock(&table, bx, by, bz)
}

func (s *Sector) buildBlock(table *MaterialTable, bx, by, bz int) {
	s.blockIndex(bx, by, bz)
	m := s.TilesPerBlock()
	origin := s.TileOffset().Add(vec.New3(bx, by, bz).Mul(m))

	region := s.manager.hintArea(table, origin, vec.Splat3(m))
	for z := 0; z < m; z++ {
		for y := 0; y < m; y++ {
			for x := 0; x < m; x++ {
				s.voxels[s.voxelIndex(bx*m+x, by*m+y, bz*m+z)] = region.Voxel(x+1, y+1, z+1)
			}
		}
	}
	s.manager.emitBlockLoad(s.Address(bx, by, bz))
}

// ReadBlock читает типы вокселей блока из потока: один байт на воксель,
// X меняется быстрее всего, затем Y, затем Z. Короткое чтение прерывает
// операцию с io.ErrUnexpectedEOF; уже прочитанные воксели остаются записанными.
func (s *Sector) ReadBlock(bx, by, bz int, r io.Reader) error {
	s.blockIndex(bx, by, bz)
	m := s.TilesPerBlock()
	buf := make([]byte, m*m*m)
	n, err := io.ReadFull(r, buf)

	i := 0
	for z := 0; z < m && i < n; z++ {
		for y := 0; y < m && i < n; y++ {
			for x := 0; x < m && i < n; x++ {
				s.SetVoxel(bx*m+x, by*m+y, bz*m+z, Voxel{Type: buf[i]})
				i++
			}
		}
	}
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("voxel: read block (%d,%d,%d): %w", bx, by, bz, err)
	}
	return nil
}

// WriteBlock пишет типы вокселей блока в поток в порядке ReadBlock
func (s *Sector) WriteBlock(bx, by, bz int, w io.Writer) error {
	s.blockIndex(bx, by, bz)
	if _, err := w.Write(s.EncodeBlock(bx, by, bz)); err != nil {
		return fmt.Errorf("voxel: write block (%d,%d,%d): %w", bx, by, bz, err)
	}
	return nil
}

// EncodeBlock возвращает блок в проводном формате
func (s *Sector) EncodeBlock(bx, by, bz int) []byte {
	m := s.TilesPerBlock()
	buf := make([]byte, 0, m*m*m)
	for z := 0; z < m; z++ {
		for y := 0; y < m; y++ {
			for x := 0; x < m; x++ {
				buf = append(buf, s.voxels[s.voxelIndex(bx*m+x, by*m+y, bz*m+z)].Type)
			}
		}
	}
	return buf
}

// Empty сообщает, что в секторе нет ни одного непустого вокселя
func (s *Sector) Empty() bool {
	for _, v := range s.voxels {
		if v.Type != 0 {
			return false
		}
	}
	return true
}

// Memory возвращает примерный объём памяти сектора в байтах
func (s *Sector) Memory() int {
	return int(unsafe.Sizeof(*s)) +
		len(s.blocks)*int(unsafe.Sizeof(Block{})) +
		len(s.voxels)*int(unsafe.Sizeof(Voxel{}))
}

// Offset координата сектора в сетке
func (s *Sector) Offset() vec.Vec3 {
	return s.cell.Coord
}

// TileOffset абсолютная координата тайла (0,0,0) сектора
func (s *Sector) TileOffset() vec.Vec3 {
	return s.cell.Coord.Mul(s.tiles)
}

// Origin мировая позиция начала сектора
func (s *Sector) Origin() mgl32.Vec3 {
	return s.cell.Position
}

// Bounds мировой AABB сектора
func (s *Sector) Bounds() (min, max mgl32.Vec3) {
	size := s.manager.grid.Width()
	return s.cell.Position, s.cell.Position.Add(mgl32.Vec3{size, size, size})
}

// Index линейный индекс сектора в сетке
func (s *Sector) Index() int {
	return s.cell.Index
}

// Dirty сообщает, есть ли в секторе блоки, ждущие перестройки
func (s *Sector) Dirty() bool { return s.dirty }

// SetDirty выставляет флаг грязности сектора
func (s *Sector) SetDirty(dirty bool) { s.dirty = dirty }

// Address адрес блока сектора
func (s *Sector) Address(bx, by, bz int) BlockAddress {
	c := s.cell.Coord
	return BlockAddress{
		Sector: [3]uint8{uint8(c.X), uint8(c.Y), uint8(c.Z)},
		Block:  [3]uint8{uint8(bx), uint8(by), uint8(bz)},
	}
}

// free сообщает о выгрузке каждого блока сектора
func (s *Sector) free() {
	for z := 0; z < s.bpl; z++ {
		for y := 0; y < s.bpl; y++ {
			for x := 0; x < s.bpl; x++ {
				s.manager.emitBlockFree(s.Address(x, y, z))
			}
		}
	}
}
