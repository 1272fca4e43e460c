package treasury

import (
	"errors"
	"testing"
)

func TestDefaultParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestParamsValidateRejectsOutOfRange(t *testing.T) {
	cases := map[string]func(*Params){
		"fees above 100%":        func(p *Params) { p.RewardFeeBps = 9_999; p.PlatformFeeBps = 2 },
		"fee sum wraps":          func(p *Params) { p.RewardFeeBps = ^uint64(0); p.PlatformFeeBps = 1 },
		"platform fee wraps":     func(p *Params) { p.RewardFeeBps = 1; p.PlatformFeeBps = ^uint64(0) },
		"zero ceiling":           func(p *Params) { p.MaxUtilizationBps = 0 },
		"ceiling above 100%":     func(p *Params) { p.MaxUtilizationBps = 10_001 },
		"zero target":            func(p *Params) { p.TargetUtilizationBps = 0 },
		"target at 100%":         func(p *Params) { p.TargetUtilizationBps = 10_000 },
		"midpoint below 1x":      func(p *Params) { p.MidpointMultiplierBps = 9_999 },
		"max below midpoint":     func(p *Params) { p.MaxMultiplierBps = 14_999 },
		"max above 100x":         func(p *Params) { p.MaxMultiplierBps = 1_000_001 },
		"base apy above 100%":    func(p *Params) { p.BaseAPYBps = 10_001 },
		"no subscription window": func(p *Params) { p.MaxSubscriptionExtensionMonths = 0 },
	}
	for name, mutate := range cases {
		params := DefaultParams()
		mutate(&params)
		if err := params.Validate(); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("%s: expected ErrInvalidParams, got %v", name, err)
		}
	}
}
