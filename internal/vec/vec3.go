package vec

import "fmt"

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется для адресации секторов, блоков и тайлов.
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// New3 создаёт Vec3
func New3(x, y, z int) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

// Splat3 создаёт вектор с одинаковыми координатами
func Splat3(v int) Vec3 {
	return Vec3{X: v, Y: v, Z: v}
}

// String возвращает строковое представление вектора
func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// DistanceSq возвращает квадрат расстояния до другого вектора
func (v Vec3) DistanceSq(other Vec3) int {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v == other
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul умножает все координаты на скаляр
func (v Vec3) Mul(k int) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// FloorDiv делит с округлением к минус бесконечности
func (v Vec3) FloorDiv(k int) Vec3 {
	return Vec3{X: floorDiv(v.X, k), Y: floorDiv(v.Y, k), Z: floorDiv(v.Z, k)}
}

// Mod возвращает неотрицательный остаток от деления на k
func (v Vec3) Mod(k int) Vec3 {
	return Vec3{X: v.X - floorDiv(v.X, k)*k, Y: v.Y - floorDiv(v.Y, k)*k, Z: v.Z - floorDiv(v.Z, k)*k}
}

// Inside проверяет, что все координаты лежат в [0, n)
func (v Vec3) Inside(n int) bool {
	return v.X >= 0 && v.Y >= 0 && v.Z >= 0 && v.X < n && v.Y < n && v.Z < n
}

// Index возвращает линейный индекс в кубе со стороной n (X меняется быстрее всего)
func (v Vec3) Index(n int) int {
	return v.X + (v.Y+v.Z*n)*n
}

// FromIndex восстанавливает координаты по линейному индексу в кубе со стороной n
func FromIndex(index, n int) Vec3 {
	return Vec3{X: index % n, Y: index / n % n, Z: index / (n * n)}
}

// Min возвращает покомпонентный минимум
func (v Vec3) Min(other Vec3) Vec3 {
	return Vec3{X: min(v.X, other.X), Y: min(v.Y, other.Y), Z: min(v.Z, other.Z)}
}

// Max возвращает покомпонентный максимум
func (v Vec3) Max(other Vec3) Vec3 {
	return Vec3{X: max(v.X, other.X), Y: max(v.Y, other.Y), Z: max(v.Z, other.Z)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
