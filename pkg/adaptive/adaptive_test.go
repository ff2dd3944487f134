package adaptive

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		BeaconInterval:    time.Second,
		MaxHops:           64,
		LowThreshold:      0.2,
		CriticalThreshold: 0.1,
		FloodingFactor:    0.5,
	}
}

func TestBands(t *testing.T) {
	c := New(testConfig())
	cases := []struct {
		ratio    float64
		band     Band
		interval time.Duration
		hops     uint32
		prob     float64
		prioOnly bool
		suspend  bool
	}{
		{1.0, BandNormal, time.Second, 64, 1, false, false},
		{0.21, BandNormal, time.Second, 64, 1, false, false},
		{0.2, BandLow, 2 * time.Second, 32, 0.5, false, false},
		{0.15, BandLow, 2 * time.Second, 32, 0.5, false, false},
		{0.1, BandCritical, 4 * time.Second, 16, 0.5, true, false},
		{0.05, BandCritical, 4 * time.Second, 16, 0.5, true, true},
		{0, BandCritical, 4 * time.Second, 16, 0.5, true, true},
	}
	for _, tc := range cases {
		p := c.Recompute(tc.ratio)
		if p.Band != tc.band || p.BeaconInterval != tc.interval || p.MaxHops != tc.hops ||
			p.ForwardProbability != tc.prob || p.PriorityOnly != tc.prioOnly || p.SuspendBeacons != tc.suspend {
			t.Fatalf("Recompute(%v) = %+v", tc.ratio, p)
		}
	}
	if !c.Recompute(0).Depleted || c.Recompute(0.01).Depleted {
		t.Fatal("Depleted must be set exactly at zero energy")
	}
}

func TestLowBandExample(t *testing.T) {
	// initial 1000 J, remaining 150 J
	c := New(testConfig())
	p := c.Recompute(150.0 / 1000.0)
	if p.Band != BandLow || p.MaxHops != 32 {
		t.Fatalf("Recompute(0.15) = %+v, want low band with 32 hops", p)
	}
}

func TestMaxHopsFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHops = 2
	c := New(cfg)
	if got := c.Recompute(0.15).MaxHops; got != 1 {
		t.Fatalf("low band hops = %d, want 1", got)
	}
	if got := c.Recompute(0.05).MaxHops; got != 1 {
		t.Fatalf("critical band hops = %d, want 1", got)
	}
}

func TestRecomputeIdempotent(t *testing.T) {
	c := New(testConfig())
	for _, r := range []float64{0, 0.03, 0.1, 0.17, 0.5, 1} {
		if a, b := c.Recompute(r), c.Recompute(r); a != b {
			t.Fatalf("Recompute(%v) not idempotent: %+v vs %+v", r, a, b)
		}
	}
}

func TestBandMonotonicity(t *testing.T) {
	c := New(testConfig())
	const steps = 200
	for i := 0; i < steps; i++ {
		r1 := float64(i) / steps
		for j := i + 1; j <= steps; j++ {
			r2 := float64(j) / steps
			p1, p2 := c.Recompute(r1), c.Recompute(r2)
			if p1.MaxHops > p2.MaxHops {
				t.Fatalf("max hops not monotonic: %v->%d, %v->%d", r1, p1.MaxHops, r2, p2.MaxHops)
			}
			if p1.BeaconInterval < p2.BeaconInterval {
				t.Fatalf("beacon interval not monotonic: %v->%s, %v->%s", r1, p1.BeaconInterval, r2, p2.BeaconInterval)
			}
		}
	}
}

func TestUpdateReportsChanges(t *testing.T) {
	c := New(testConfig())
	if _, changed := c.Update(0.9); changed {
		t.Fatal("staying in normal band should not report a change")
	}
	p, changed := c.Update(0.15)
	if !changed || p.Band != BandLow {
		t.Fatalf("Update(0.15) = %+v,%v", p, changed)
	}
	if c.Current() != p {
		t.Fatal("Current does not reflect the last update")
	}
	if _, changed := c.Update(0.16); changed {
		t.Fatal("moving inside the low band should not report a change")
	}
	if _, changed := c.Update(0.04); !changed {
		t.Fatal("dropping to critical should report a change")
	}
}
