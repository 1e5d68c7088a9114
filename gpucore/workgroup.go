package gpucore

// DefaultWorkgroup is the invocation tile used when a device has no
// preference: 32 lanes wide, 8 rows tall.
var DefaultWorkgroup = [2]uint32{32, 8}

// FitWorkgroup clamps a requested tile to the device limits. Each
// dimension is kept at least 1, and the height is halved until the total
// invocation count fits.
func FitWorkgroup(want [2]uint32, lim Limits) [2]uint32 {
	wg := want
	if wg[0] == 0 || wg[1] == 0 {
		wg = DefaultWorkgroup
	}
	for i := range wg {
		if m := lim.MaxWorkgroupSize[i]; m > 0 && wg[i] > m {
			wg[i] = m
		}
	}
	if maxInv := lim.MaxWorkgroupInvocations; maxInv > 0 {
		for wg[0]*wg[1] > maxInv && wg[1] > 1 {
			wg[1] /= 2
		}
		for wg[0]*wg[1] > maxInv && wg[0] > 1 {
			wg[0] /= 2
		}
	}
	return wg
}

// WorkgroupCount returns how many workgroups of the given tile cover a
// width x height grid. Partial tiles at the edges are rounded up; the
// invocations that fall outside the grid must be bounds-checked by the
// program.
func WorkgroupCount(width, height int, tile [2]uint32) (x, y uint32) {
	if width <= 0 || height <= 0 || tile[0] == 0 || tile[1] == 0 {
		return 0, 0
	}
	w, h := uint32(width), uint32(height) //nolint:gosec // grid dimensions are positive and small
	return (w + tile[0] - 1) / tile[0], (h + tile[1] - 1) / tile[1]
}
