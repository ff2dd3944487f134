package node

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ryandielhenn/zephyrdtn/pkg/energy"
)

// Info is the JSON view served on /info.
type Info struct {
	ID             string    `json:"id"`
	PID            int       `json:"pid"`
	Now            time.Time `json:"now"`
	Items          int       `json:"items"`
	Capacity       int       `json:"capacity"`
	EnergyRatio    float64   `json:"energy_ratio"`
	EnergyLevel    string    `json:"energy_level"`
	RemainingJ     float64   `json:"remaining_joules"`
	Band           string    `json:"band"`
	BeaconInterval string    `json:"beacon_interval"`
	MaxHops        uint32    `json:"max_hops"`
	Suspended      bool      `json:"beacons_suspended"`
	Depleted       bool      `json:"depleted"`
	Contacts       int       `json:"contacts"`
}

func (n *Node) Info() Info {
	p := n.ctrl.Current()
	return Info{
		ID:             n.id,
		PID:            os.Getpid(),
		Now:            n.clock.Now(),
		Items:          n.buf.Len(),
		Capacity:       n.buf.Cap(),
		EnergyRatio:    p.Ratio,
		EnergyLevel:    energyLevel(p.Ratio),
		RemainingJ:     energy.Remaining(n.src, 0),
		Band:           p.Band.String(),
		BeaconInterval: p.BeaconInterval.String(),
		MaxHops:        p.MaxHops,
		Suspended:      p.SuspendBeacons,
		Depleted:       p.Depleted,
		Contacts:       len(n.contacts.Contacts()),
	}
}

// WriteStatus prints the routing state for operators.
func (n *Node) WriteStatus(w io.Writer) error {
	now := n.clock.Now()
	p := n.ctrl.Current()
	cfg := n.cfg

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Energy-adaptive epidemic routing, node %s\n", n.id)
	fmt.Fprintf(tw, "time\t%s\t(up %s)\n", now.Format(time.RFC3339), now.Sub(n.startedAt).Round(time.Millisecond))
	fmt.Fprintf(tw, "energy\t%.3f\t%s, band %s\n", p.Ratio, energyLevel(p.Ratio), p.Band)
	if n.src != nil {
		fmt.Fprintf(tw, "remaining\t%.2f J\tof %.2f J\n", n.src.RemainingEnergy(), n.src.InitialEnergy())
	}
	fmt.Fprintf(tw, "beacon interval\t%s\t(base %s, suspended %t)\n", p.BeaconInterval, cfg.BeaconInterval, p.SuspendBeacons)
	fmt.Fprintf(tw, "max hops\t%d\t(base %d)\n", p.MaxHops, cfg.MaxHops)
	fmt.Fprintf(tw, "buffer\t%d/%d\texpire %s\n", n.buf.Len(), n.buf.Cap(), cfg.EntryExpireTime)
	fmt.Fprintf(tw, "\nrecent contacts\n")
	contacts := n.contacts.Contacts()
	if len(contacts) == 0 {
		fmt.Fprintf(tw, "  none\n")
	}
	for _, c := range contacts {
		last := "never"
		if !c.LastContact.IsZero() {
			last = now.Sub(c.LastContact).Round(time.Millisecond).String() + " ago"
		}
		fmt.Fprintf(tw, "  %s\t%s\tin flight %t\n", c.Peer, last, c.InFlight)
	}
	fmt.Fprintf(tw, "\nparameters\n")
	fmt.Fprintf(tw, "  host_recent_period\t%s\n", cfg.HostRecentPeriod)
	fmt.Fprintf(tw, "  beacon_jitter_ms\t%d\n", cfg.BeaconJitterMs)
	fmt.Fprintf(tw, "  energy_threshold_low\t%.2f\n", cfg.EnergyThresholdLow)
	fmt.Fprintf(tw, "  energy_threshold_critical\t%.2f\n", cfg.EnergyThresholdCrit)
	fmt.Fprintf(tw, "  flooding_factor\t%.2f\n", cfg.FloodingFactor)
	fmt.Fprintf(tw, "  high_priority_class_threshold\t%d\n", cfg.HighPriorityThreshold)
	fmt.Fprintf(tw, "  compression_ratio\t%.2f\n", cfg.CompressionRatio)
	fmt.Fprintf(tw, "routing mode\t%s\n", routingMode(p.Band.String(), p.ForwardProbability, p.PriorityOnly, p.Depleted))
	return tw.Flush()
}

func routingMode(band string, prob float64, priorityOnly, depleted bool) string {
	switch {
	case depleted:
		return "depleted, local delivery only"
	case priorityOnly:
		return fmt.Sprintf("%s, high priority only (p=%.2f)", band, prob)
	case prob < 1:
		return fmt.Sprintf("%s, probabilistic flooding (p=%.2f)", band, prob)
	default:
		return band + ", full epidemic"
	}
}
