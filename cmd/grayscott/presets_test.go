package main

import (
	"testing"

	"github.com/gogpu/grayscott/sim"
)

func TestFindPreset(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"θ", 8, false},
		{"theta", 8, false},
		{"MU", 12, false},
		{"custom", 0, false},
		{"omega", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findPreset(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("findPreset(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("findPreset(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestPresets(t *testing.T) {
	if len(presets) != 13 {
		t.Fatalf("%d presets, want 13", len(presets))
	}
	if presets[defaultPreset].Alias != "theta" {
		t.Errorf("default preset is %s, want theta", presets[defaultPreset].Alias)
	}
	for i, p := range presets[1:] {
		if p.custom() || p.F <= 0 || p.K <= 0 {
			t.Errorf("preset %d (%s) has invalid parameters F=%v K=%v", i+1, p.Name, p.F, p.K)
		}
	}
}

func TestSelectParams(t *testing.T) {
	def := sim.DefaultParams()
	tests := []struct {
		name     string
		preset   string
		explicit bool
		feed     float64
		kill     float64
		wantIdx  int
		wantF    float32
		wantK    float32
		wantErr  bool
	}{
		{"default preset", "theta", false, 0, 0, 8, 0.030, 0.057, false},
		{"custom keeps defaults", "custom", true, 0, 0, 0, def.F, def.K, false},
		{"F and K switch to custom", "theta", false, 0.05, 0.06, 0, 0.05, 0.06, false},
		{"F alone keeps preset K", "theta", false, 0.05, 0, 0, 0.05, 0.057, false},
		{"explicit custom", "custom", true, 0.05, 0.06, 0, 0.05, 0.06, false},
		{"conflicts with explicit preset", "mu", true, 0.05, 0.06, 0, 0, 0, true},
		{"negative kill", "custom", true, 0.05, -1, 0, 0, 0, true},
		{"unknown preset", "omega", true, 0, 0, 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, p, err := selectParams(tt.preset, tt.explicit, tt.feed, tt.kill)
			if (err != nil) != tt.wantErr {
				t.Fatalf("selectParams err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if idx != tt.wantIdx || p.F != tt.wantF || p.K != tt.wantK {
				t.Errorf("selectParams = %d F=%v K=%v, want %d F=%v K=%v", idx, p.F, p.K, tt.wantIdx, tt.wantF, tt.wantK)
			}
			if p.Du != def.Du || p.Dv != def.Dv {
				t.Errorf("diffusion changed: %+v", p)
			}
		})
	}
}
