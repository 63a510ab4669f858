package voxel

// slopeHint вычисляет битовую маску наклона для центра окрестности.
// open задаёт, какие соседи считаются открытыми (пустота или жидкость для
// склонов, только пустота для жидкостей); chain включает правила, по которым
// угол наклоняется рядом с соседним склоном.
// Возвращает 0, если наклон не применим.
func slopeHint(w *Window, open cellTest, chain bool) uint8 {
	o := func(x, y, z int) bool { return open(w, x, y, z) }

	// Наклоняется ровно одна из сторон: верх или низ
	if b2i(o(1, 0, 1))+b2i(o(1, 2, 1)) != 1 {
		return 0
	}
	hint := HintFaceDown
	y, y1 := 0, 2
	if !o(1, 0, 1) {
		hint = HintFaceUp
		y, y1 = 2, 0
	}

	// Соседние тайлы по умолчанию запрещают наклон
	c := [2][2]bool{{true, true}, {true, true}}
	if !o(0, 1, 1) {
		c[0][0], c[0][1] = false, false
	}
	if !o(2, 1, 1) {
		c[1][0], c[1][1] = false, false
	}
	if !o(1, 1, 0) {
		c[0][0], c[1][0] = false, false
	}
	if !o(1, 1, 2) {
		c[0][1], c[1][1] = false, false
	}

	if chain {
		s := func(x, y, z int) bool { return w.sloped(x, y, z) }
		// к -X
		if o(0, 1, 0) && o(0, 1, 1) && s(1, 1, 0) && o(1, y, 0) && !o(1, y1, 0) && !o(2, 1, 0) && !o(2, 1, 1) {
			c[0][0] = true
		}
		if o(0, 1, 2) && o(0, 1, 1) && s(1, 1, 2) && o(1, y, 2) && !o(1, y1, 2) && !o(2, 1, 2) && !o(2, 1, 1) {
			c[0][1] = true
		}
		// к +X
		if o(2, 1, 0) && o(2, 1, 1) && s(1, 1, 0) && o(1, y, 0) && !o(1, y1, 0) && !o(0, 1, 0) && !o(0, 1, 1) {
			c[1][0] = true
		}
		if o(2, 1, 2) && o(2, 1, 1) && s(1, 1, 2) && o(1, y, 2) && !o(1, y1, 2) && !o(0, 1, 2) && !o(0, 1, 1) {
			c[1][1] = true
		}
		// к -Z
		if o(1, 1, 0) && o(0, 1, 0) && s(0, 1, 1) && o(0, y, 1) && !o(0, y1, 1) && !o(1, 1, 2) && !o(0, 1, 2) {
			c[0][0] = true
		}
		if o(1, 1, 0) && o(2, 1, 0) && s(2, 1, 1) && o(2, y, 1) && !o(2, y1, 1) && !o(1, 1, 2) && !o(2, 1, 2) {
			c[1][0] = true
		}
		// к +Z
		if o(1, 1, 2) && o(0, 1, 2) && s(0, 1, 1) && o(0, y, 1) && !o(0, y1, 1) && !o(1, 1, 0) && !o(0, 1, 0) {
			c[0][1] = true
		}
		if o(1, 1, 2) && o(2, 1, 2) && s(2, 1, 1) && o(2, y, 1) && !o(2, y1, 1) && !o(1, 1, 0) && !o(2, 1, 0) {
			c[1][1] = true
		}
	}

	if c[0][0] {
		hint |= HintCorner00
	}
	if c[1][0] {
		hint |= HintCorner10
	}
	if c[0][1] {
		hint |= HintCorner01
	}
	if c[1][1] {
		hint |= HintCorner11
	}

	// Полностью наклонённый тайл вырожден; выбираем один из двух гребней
	if hint&HintCornerAll == HintCornerAll {
		if o(1, 0, 0) && o(1, 0, 2) {
			hint |= HintSpecial1
		} else if o(0, 0, 1) && o(2, 0, 1) {
			hint |= HintSpecial2
		}
	}
	return hint
}

// applySlope опускает (или поднимает) углы решётки согласно подсказке
func applySlope(v *lattice, hint uint8) {
	var sign float32
	var y int
	switch {
	case hint&HintFaceUp != 0:
		sign, y = -1, 2
	case hint&HintFaceDown != 0:
		sign, y = 1, 0
	default:
		return
	}

	corner := func(cx, cz int) {
		v[cx][1][cz][1] += sign * 0.5
		v[cx][y][cz][1] += sign * 1.0
		v[1][1][cz][1] += sign * 0.25
		v[1][y][cz][1] += sign * 0.5
		v[cx][1][1][1] += sign * 0.25
		v[cx][y][1][1] += sign * 0.5
	}
	if hint&HintCorner00 != 0 {
		corner(0, 0)
	}
	if hint&HintCorner10 != 0 {
		corner(2, 0)
	}
	if hint&HintCorner01 != 0 {
		corner(0, 2)
	}
	if hint&HintCorner11 != 0 {
		corner(2, 2)
	}
	v[1][y][1][1] = 0.25 * (v[0][y][1][1] + v[2][y][1][1] + v[1][y][0][1] + v[1][y][2][1])

	if hint&HintCornerAll == HintCornerAll {
		v[1][y][1][1] -= sign * 0.5
		switch {
		case hint&HintSpecial1 != 0:
			v[1][y][0][1] -= sign * 0.5
			v[1][y][2][1] -= sign * 0.5
		case hint&HintSpecial2 != 0:
			v[0][y][1][1] -= sign * 0.5
			v[2][y][1][1] -= sign * 0.5
		}
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
