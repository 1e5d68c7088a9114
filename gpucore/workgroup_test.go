package gpucore

import "testing"

func TestWorkgroupCount(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		tile          [2]uint32
		wantX, wantY  uint32
	}{
		{"exact fit", 256, 256, [2]uint32{32, 8}, 8, 32},
		{"partial edge tiles", 100, 30, [2]uint32{32, 8}, 4, 4},
		{"single cell", 1, 1, [2]uint32{32, 8}, 1, 1},
		{"zero width", 0, 10, [2]uint32{32, 8}, 0, 0},
		{"zero tile", 10, 10, [2]uint32{0, 8}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := WorkgroupCount(tt.width, tt.height, tt.tile)
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("WorkgroupCount(%d, %d, %v) = (%d, %d), want (%d, %d)",
					tt.width, tt.height, tt.tile, x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestWorkgroupCount_CoversGrid(t *testing.T) {
	tile := [2]uint32{32, 8}
	for _, size := range [][2]int{{1, 1}, {33, 9}, {255, 257}, {512, 7}} {
		x, y := WorkgroupCount(size[0], size[1], tile)
		if int(x*tile[0]) < size[0] || int(y*tile[1]) < size[1] {
			t.Errorf("%v: dispatch %dx%d of %v does not cover the grid", size, x, y, tile)
		}
		if int((x-1)*tile[0]) >= size[0] || int((y-1)*tile[1]) >= size[1] {
			t.Errorf("%v: dispatch %dx%d over-provisions a whole tile", size, x, y)
		}
	}
}

func TestFitWorkgroup(t *testing.T) {
	tests := []struct {
		name string
		want [2]uint32
		lim  Limits
		exp  [2]uint32
	}{
		{"no limits", [2]uint32{32, 8}, Limits{}, [2]uint32{32, 8}},
		{"zero request uses default", [2]uint32{0, 0}, Limits{}, DefaultWorkgroup},
		{
			"clamped per dimension",
			[2]uint32{64, 16},
			Limits{MaxWorkgroupSize: [2]uint32{32, 32}},
			[2]uint32{32, 16},
		},
		{
			"invocation budget halves height",
			[2]uint32{32, 8},
			Limits{MaxWorkgroupInvocations: 64},
			[2]uint32{32, 2},
		},
		{
			"invocation budget below width",
			[2]uint32{32, 8},
			Limits{MaxWorkgroupInvocations: 16},
			[2]uint32{16, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FitWorkgroup(tt.want, tt.lim); got != tt.exp {
				t.Errorf("FitWorkgroup(%v) = %v, want %v", tt.want, got, tt.exp)
			}
		})
	}
}
