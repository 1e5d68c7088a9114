package main

import (
	"fmt"
	"strings"

	"github.com/gogpu/grayscott/sim"
)

// preset is a named point of Pearson's (F, K) parameter map. A zero F
// means "keep the current values".
type preset struct {
	Name  string
	Alias string
	F, K  float32
}

// presets in Munafo's order. Index defaultPreset (θ) is selected at start.
var presets = []preset{
	{Name: "Custom", Alias: "custom"},
	{Name: "α", Alias: "alpha", F: 0.014, K: 0.049},
	{Name: "β", Alias: "beta", F: 0.026, K: 0.052},
	{Name: "γ", Alias: "gamma", F: 0.026, K: 0.055},
	{Name: "δ", Alias: "delta", F: 0.042, K: 0.059},
	{Name: "ε", Alias: "epsilon", F: 0.018, K: 0.055},
	{Name: "ζ", Alias: "zeta", F: 0.026, K: 0.059},
	{Name: "η", Alias: "eta", F: 0.034, K: 0.063},
	{Name: "θ", Alias: "theta", F: 0.030, K: 0.057},
	{Name: "ι", Alias: "iota", F: 0.046, K: 0.0594},
	{Name: "κ", Alias: "kappa", F: 0.050, K: 0.063},
	{Name: "λ", Alias: "lambda", F: 0.026, K: 0.061},
	{Name: "μ", Alias: "mu", F: 0.046, K: 0.065},
}

const defaultPreset = 8

// findPreset looks a preset up by Greek letter or ASCII alias.
func findPreset(name string) (int, error) {
	for i, p := range presets {
		if p.Name == name || strings.EqualFold(p.Alias, name) {
			return i, nil
		}
	}
	aliases := make([]string, len(presets))
	for i, p := range presets {
		aliases[i] = p.Alias
	}
	return 0, fmt.Errorf("unknown preset %q (want one of %s)", name, strings.Join(aliases, ", "))
}

func (p preset) custom() bool { return p.F == 0 && p.K == 0 }

func (p preset) String() string {
	if p.custom() {
		return p.Name
	}
	return fmt.Sprintf("%s (F=%.4f K=%.4f)", p.Name, p.F, p.K)
}

// selectParams resolves the starting preset and parameters. An explicit F
// or K selects Custom, starting from the named preset's values; combined
// with an explicitly chosen non-custom preset it is an error.
func selectParams(name string, explicit bool, feed, kill float64) (int, sim.Params, error) {
	params := sim.DefaultParams()
	if feed < 0 || kill < 0 {
		return 0, params, fmt.Errorf("negative F=%v or K=%v", feed, kill)
	}
	idx, err := findPreset(name)
	if err != nil {
		return 0, params, err
	}
	p := presets[idx]
	if !p.custom() {
		params.F, params.K = p.F, p.K
	}
	if feed == 0 && kill == 0 {
		return idx, params, nil
	}
	if explicit && !p.custom() {
		return 0, params, fmt.Errorf("-F/-K set together with -preset %s; use -preset custom", p.Alias)
	}
	if feed > 0 {
		params.F = float32(feed)
	}
	if kill > 0 {
		params.K = float32(kill)
	}
	return 0, params, nil
}
