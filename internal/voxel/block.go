package voxel

import (
	"fmt"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// Биты грязности блока
const (
	DirtyNegX       uint8 = 0x01
	DirtyPosX       uint8 = 0x02
	DirtyNegY       uint8 = 0x04
	DirtyPosY       uint8 = 0x08
	DirtyNegZ       uint8 = 0x10
	DirtyPosZ       uint8 = 0x20
	DirtyPropagated uint8 = 0x40
	DirtyExplicit   uint8 = 0x80
	DirtyAll        uint8 = 0xFF
)

// Block единица инвалидации. Вокселей не хранит, только отслеживает,
// какие из них требуют перестройки.
type Block struct {
	Dirty uint8
	Stamp uint16 // растёт на каждое явное изменение
}

// BlockAddress адрес блока: координата сектора в сетке и блока в секторе
type BlockAddress struct {
	Sector [3]uint8 `json:"sector"`
	Block  [3]uint8 `json:"block"`
}

// NewBlockAddress собирает адрес из координат сектора и блока
func NewBlockAddress(sector, block vec.Vec3) BlockAddress {
	return BlockAddress{
		Sector: [3]uint8{uint8(sector.X), uint8(sector.Y), uint8(sector.Z)},
		Block:  [3]uint8{uint8(block.X), uint8(block.Y), uint8(block.Z)},
	}
}

// SectorCoord координата сектора
func (a BlockAddress) SectorCoord() vec.Vec3 {
	return vec.New3(int(a.Sector[0]), int(a.Sector[1]), int(a.Sector[2]))
}

// BlockCoord координата блока внутри сектора
func (a BlockAddress) BlockCoord() vec.Vec3 {
	return vec.New3(int(a.Block[0]), int(a.Block[1]), int(a.Block[2]))
}

// BlockIndex линейный индекс блока внутри сектора
func (a BlockAddress) BlockIndex(blocksPerLine int) int {
	return a.BlockCoord().Index(blocksPerLine)
}

// Index полный линейный индекс: индекс сектора в сетке, умноженный на
// число блоков в секторе, плюс индекс блока
func (a BlockAddress) Index(sectorsPerLine, blocksPerLine int) int {
	perSector := blocksPerLine * blocksPerLine * blocksPerLine
	return a.SectorCoord().Index(sectorsPerLine)*perSector + a.BlockIndex(blocksPerLine)
}

// BlockAddressFromIndex обратное преобразование к Index
func BlockAddressFromIndex(index, sectorsPerLine, blocksPerLine int) BlockAddress {
	perSector := blocksPerLine * blocksPerLine * blocksPerLine
	return NewBlockAddress(
		vec.FromIndex(index/perSector, sectorsPerLine),
		vec.FromIndex(index%perSector, blocksPerLine),
	)
}

func (a BlockAddress) String() string {
	return fmt.Sprintf("%d:%d:%d/%d:%d:%d",
		a.Sector[0], a.Sector[1], a.Sector[2], a.Block[0], a.Block[1], a.Block[2])
}

// blockNeighbor смещение соседнего блока и набор граневых битов,
// которые должны присутствовать для распространения на него
type blockNeighbor struct {
	dx, dy, dz int
	mask       uint8
}

var blockNeighbors = buildBlockNeighbors()

func buildBlockNeighbors() []blockNeighbor {
	out := make([]blockNeighbor, 0, 26)
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				var mask uint8
				switch dx {
				case -1:
					mask |= DirtyNegX
				case 1:
					mask |= DirtyPosX
				}
				switch dy {
				case -1:
					mask |= DirtyNegY
				case 1:
					mask |= DirtyPosY
				}
				switch dz {
				case -1:
					mask |= DirtyNegZ
				case 1:
					mask |= DirtyPosZ
				}
				out = append(out, blockNeighbor{dx: dx, dy: dy, dz: dz, mask: mask})
			}
		}
	}
	return out
}
