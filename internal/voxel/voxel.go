// Package voxel реализует объёмную сетку типизированных ячеек (вокселей):
// секторы и блоки с отслеживанием изменений, проставление подсказок деформации,
// триангуляцию деформированных кубов и сборку мешей по материалам.
//
// Пакет однопоточный: все вызовы Manager, Sector и Builder должны
// сериализоваться вызывающей стороной.
package voxel

// Voxel одна ячейка сетки. Type == 0 означает пустоту.
type Voxel struct {
	Type uint8
	Hint uint8
}

// Empty сообщает, пуст ли воксель
func (v Voxel) Empty() bool {
	return v.Type == 0
}

// Биты подсказки наклона. Порядок углов используется физикой террейна.
const (
	HintCorner00  uint8 = 0x01
	HintCorner10  uint8 = 0x02
	HintCorner01  uint8 = 0x04
	HintCorner11  uint8 = 0x08
	HintCornerAll uint8 = 0x0F
	HintSpecial1  uint8 = 0x10
	HintSpecial2  uint8 = 0x20
	HintFaceUp    uint8 = 0x40
	HintFaceDown  uint8 = 0x80
)

// Флаги поиска FindVoxel
const (
	FindEmpty uint8 = 0x01
	FindFull  uint8 = 0x02
	FindAll   uint8 = 0xFF
)

// Face грань куба, из которой получен треугольник
type Face uint8

const (
	FaceNegX Face = iota
	FacePosX
	FaceNegY
	FacePosY
	FaceNegZ
	FacePosZ
)

var faceNames = [...]string{"-X", "+X", "-Y", "+Y", "-Z", "+Z"}

func (f Face) String() string {
	if int(f) < len(faceNames) {
		return faceNames[f]
	}
	return "?"
}
