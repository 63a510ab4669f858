package voxel

// Hint вычисляет подсказку деформации центрального вокселя окрестности.
// Результат зависит только от окрестности.
func Hint(w *Window) uint8 {
	c := w.Center()
	if c.Voxel.Type == 0 || c.Material == nil {
		return 0
	}
	if c.Material.Class.IsSloped() {
		return slopeHint(w, testLiquidEmpty, true)
	}
	// Жидкости и скругления получают форму из занятости при триангуляции
	return 0
}

// HintRegion проставляет подсказки всем вокселям региона, кроме граничного слоя
func HintRegion(r *Region) {
	for z := 1; z < r.Size.Z-1; z++ {
		for y := 1; y < r.Size.Y-1; y++ {
			for x := 1; x < r.Size.X-1; x++ {
				v := r.Voxel(x, y, z)
				if v.Type == 0 {
					v.Hint = 0
				} else {
					v.Hint = Hint(r.Window(x, y, z))
				}
				r.SetVoxel(x, y, z, v)
			}
		}
	}
}
