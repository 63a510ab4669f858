package vec

// Box3 задаёт включительный целочисленный параллелепипед [Min, Max]
type Box3 struct {
	Min Vec3
	Max Vec3
}

// NewBox3 создаёт Box3 по углу и размеру
func NewBox3(origin, size Vec3) Box3 {
	return Box3{Min: origin, Max: origin.Add(size).Sub(Splat3(1))}
}

// Empty возвращает true, если параллелепипед не содержит ни одной точки
func (b Box3) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Contains проверяет принадлежность точки
func (b Box3) Contains(p Vec3) bool {
	return b.Min.X <= p.X && p.X <= b.Max.X &&
		b.Min.Y <= p.Y && p.Y <= b.Max.Y &&
		b.Min.Z <= p.Z && p.Z <= b.Max.Z
}

// Clamp ограничивает параллелепипед диапазоном [lo, hi] по всем осям
func (b Box3) Clamp(lo, hi int) Box3 {
	return Box3{Min: b.Min.Max(Splat3(lo)), Max: b.Max.Min(Splat3(hi))}
}

// Intersect возвращает пересечение двух параллелепипедов
func (b Box3) Intersect(o Box3) Box3 {
	return Box3{Min: b.Min.Max(o.Min), Max: b.Max.Min(o.Max)}
}

// ForEach обходит все точки; X меняется быстрее всего, затем Y, затем Z.
// Обход прекращается, если fn возвращает false.
func (b Box3) ForEach(fn func(p Vec3) bool) {
	for z := b.Min.Z; z <= b.Max.Z; z++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for x := b.Min.X; x <= b.Max.X; x++ {
				if !fn(Vec3{X: x, Y: y, Z: z}) {
					return
				}
			}
		}
	}
}
