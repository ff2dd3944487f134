package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdtn/internal/config"
	"github.com/ryandielhenn/zephyrdtn/pkg/buffer"
	"github.com/ryandielhenn/zephyrdtn/pkg/energy"
	"github.com/ryandielhenn/zephyrdtn/pkg/node"
	"github.com/ryandielhenn/zephyrdtn/pkg/sched"
	"github.com/ryandielhenn/zephyrdtn/pkg/transport"
)

type scenario struct {
	Nodes         int
	Area          float64
	MinSpeed      float64
	MaxSpeed      float64
	Pause         time.Duration
	Range         float64
	InitialEnergy float64
	IdleWatts     float64
	Duration      time.Duration
	Pairs         int
	PacketSize    int
	SendInterval  time.Duration
	// Cooldown stops traffic this long before the end.
	Cooldown    time.Duration
	ReportEvery time.Duration
	Seed        int64
	Node        config.Config
}

func defaultScenario() scenario {
	cfg := config.Default()
	cfg.BeaconInterval = 5 * time.Second
	cfg.EntryExpireTime = 60 * time.Second
	return scenario{
		Nodes:         20,
		Area:          500,
		MinSpeed:      5,
		MaxSpeed:      15,
		Pause:         5 * time.Second,
		Range:         100,
		InitialEnergy: 1000,
		IdleWatts:     0.66,
		Duration:      300 * time.Second,
		Pairs:         10,
		PacketSize:    512,
		SendInterval:  2 * time.Second,
		Cooldown:      5 * time.Second,
		ReportEvery:   60 * time.Second,
		Seed:          1,
		Node:          cfg,
	}
}

type report struct {
	Sent      int
	Rejected  int
	Delivered int
	Hops      int
	Latency   time.Duration
	Depleted  int
	Remaining float64
}

func (r report) PDR() float64 {
	if r.Sent == 0 {
		return 0
	}
	return float64(r.Delivered) / float64(r.Sent)
}

const mobilityStep = 500 * time.Millisecond

// run plays the scenario on a discrete-event clock and writes periodic
// energy reports to out.
func (s scenario) run(out io.Writer, log *zap.Logger) (report, error) {
	start := time.Unix(0, 0).UTC()
	sim := sched.NewSim(start)
	hub := transport.NewHub(sim, 2*time.Millisecond)
	rng := rand.New(rand.NewSource(s.Seed))
	mob := waypoint{area: s.Area, minSpeed: s.MinSpeed, maxSpeed: s.MaxSpeed, pause: s.Pause, rng: rng}

	var rep report
	ids := make([]string, s.Nodes)
	nodes := make([]*node.Node, s.Nodes)
	batteries := make([]*energy.Battery, s.Nodes)
	walkers := make([]*walker, s.Nodes)
	seen := make(map[uint64]bool)

	for i := range nodes {
		ids[i] = fmt.Sprintf("n%02d", i)
		cfg := s.Node
		cfg.NodeID = ids[i]
		batteries[i] = energy.NewBattery(s.InitialEnergy)
		n, err := node.New(node.Options{
			Config:    cfg,
			Clock:     sim,
			Transport: hub.Attach(ids[i]),
			Energy:    batteries[i],
			Logger:    log,
			Rand:      rand.New(rand.NewSource(rng.Int63())),
			Deliver: func(d node.Delivery) {
				if seen[d.ID] {
					return
				}
				seen[d.ID] = true
				rep.Delivered++
				rep.Hops += int(d.Hops)
				rep.Latency += d.Latency
			},
		})
		if err != nil {
			return rep, err
		}
		nodes[i] = n
		walkers[i] = mob.spawn()
	}

	var move func()
	move = func() {
		for i, w := range walkers {
			mob.advance(w, mobilityStep)
			batteries[i].Consume(s.IdleWatts * mobilityStep.Seconds())
		}
		for i := range walkers {
			for j := i + 1; j < len(walkers); j++ {
				if walkers[i].pos.dist(walkers[j].pos) <= s.Range {
					hub.Link(ids[i], ids[j])
				} else {
					hub.Unlink(ids[i], ids[j])
				}
			}
		}
		sim.Schedule(mobilityStep, move)
	}
	move()

	for _, n := range nodes {
		n.Start(context.Background())
	}

	classes := []buffer.Class{buffer.ClassSpeech, buffer.ClassControl, buffer.ClassMultimedia}
	payload := make([]byte, s.PacketSize)
	for p := 0; p < s.Pairs && p < s.Nodes; p++ {
		src := nodes[p]
		dst := ids[(p+s.Nodes/2)%s.Nodes]
		class := classes[p%len(classes)]
		stopAt := start.Add(s.Duration - s.Cooldown)
		var tick func()
		tick = func() {
			if sim.Now().After(stopAt) {
				return
			}
			if _, err := src.RouteOutput(dst, payload, class); err != nil {
				rep.Rejected++
			} else {
				rep.Sent++
			}
			sim.Schedule(s.SendInterval, tick)
		}
		sim.Schedule(5*time.Second+time.Duration(p)*2*time.Second, tick)
	}

	if s.ReportEvery > 0 {
		var energyReport func()
		energyReport = func() {
			writeEnergyReport(out, sim.Now().Sub(start), ids, batteries)
			sim.Schedule(s.ReportEvery, energyReport)
		}
		sim.Schedule(s.ReportEvery, energyReport)
	}

	sim.RunUntil(start.Add(s.Duration))

	for _, b := range batteries {
		rep.Remaining += b.RemainingEnergy()
		if b.RemainingEnergy() <= 0 {
			rep.Depleted++
		}
	}
	if err := nodes[0].WriteStatus(out); err != nil {
		return rep, err
	}
	return rep, nil
}

func writeEnergyReport(out io.Writer, at time.Duration, ids []string, batteries []*energy.Battery) {
	fmt.Fprintf(out, "\n=== energy at %s ===\n", at)
	var total, initial float64
	for i, b := range batteries {
		ratio := energy.Ratio(b)
		state := "OPERATIONAL"
		if b.RemainingEnergy() <= 0 {
			state = "DEPLETED"
		}
		fmt.Fprintf(out, "%s  %8.2f J  %5.1f%%  %s\n", ids[i], b.RemainingEnergy(), ratio*100, state)
		total += b.RemainingEnergy()
		initial += b.InitialEnergy()
	}
	if initial > 0 {
		fmt.Fprintf(out, "network: %.2f J remaining (%.1f%%)\n", total, total/initial*100)
	}
}
