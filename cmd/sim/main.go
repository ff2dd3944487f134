// Command sim runs an emergency-response scenario on the discrete-event
// clock: rescue workers roam a disaster area by random waypoint, exchange
// speech, alert and position traffic over a range-limited radio and drain
// their batteries while doing it.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdtn/internal/config"
	"github.com/ryandielhenn/zephyrdtn/internal/logging"
)

func main() {
	s := defaultScenario()
	cfgPath := flag.String("config", "", "YAML node config applied to every node")
	level := flag.String("log", "warn", "log level")
	flag.IntVar(&s.Nodes, "nodes", s.Nodes, "number of rescue workers")
	flag.Float64Var(&s.Area, "area", s.Area, "side of the square area in metres")
	flag.Float64Var(&s.MinSpeed, "speed-min", s.MinSpeed, "minimum speed in m/s")
	flag.Float64Var(&s.MaxSpeed, "speed-max", s.MaxSpeed, "maximum speed in m/s")
	flag.Float64Var(&s.Range, "range", s.Range, "radio range in metres")
	flag.Float64Var(&s.InitialEnergy, "energy", s.InitialEnergy, "initial energy per node in joules")
	flag.Float64Var(&s.IdleWatts, "idle-watts", s.IdleWatts, "idle radio draw in watts")
	flag.DurationVar(&s.Duration, "duration", s.Duration, "simulated time")
	flag.IntVar(&s.Pairs, "pairs", s.Pairs, "communicating pairs")
	flag.IntVar(&s.PacketSize, "size", s.PacketSize, "packet size in bytes")
	flag.DurationVar(&s.SendInterval, "interval", s.SendInterval, "send interval per pair")
	flag.Int64Var(&s.Seed, "seed", s.Seed, "random seed")
	flag.Parse()

	if *cfgPath != "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		s.Node = cfg
	}
	log, err := logging.New(*level, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Printf("Emergency network: %d workers, %.0fm x %.0fm, range %.0fm, %.0f J, %s\n",
		s.Nodes, s.Area, s.Area, s.Range, s.InitialEnergy, s.Duration)

	start := time.Now()
	rep, err := s.run(os.Stdout, log)
	if err != nil {
		log.Fatal("simulation failed", zap.Error(err))
	}

	fmt.Printf("\n=== results ===\n")
	fmt.Printf("packets sent:       %d (rejected %d)\n", rep.Sent, rep.Rejected)
	fmt.Printf("packets delivered:  %d\n", rep.Delivered)
	fmt.Printf("delivery ratio:     %.2f%%\n", rep.PDR()*100)
	if rep.Delivered > 0 {
		fmt.Printf("mean hops:          %.2f\n", float64(rep.Hops)/float64(rep.Delivered))
		fmt.Printf("mean latency:       %s\n", (rep.Latency / time.Duration(rep.Delivered)).Round(time.Millisecond))
	}
	fmt.Printf("depleted nodes:     %d\n", rep.Depleted)
	fmt.Printf("energy remaining:   %.2f J\n", rep.Remaining)
	fmt.Printf("wall time:          %s\n", time.Since(start).Round(time.Millisecond))
}
