package telemetry

// NodeMetrics binds the protocol metrics to one node id so call sites do not
// repeat the label.
type NodeMetrics struct {
	node string
}

func ForNode(id string) NodeMetrics {
	return NodeMetrics{node: id}
}

func (m NodeMetrics) Beacon(result string) {
	BeaconsTotal.WithLabelValues(m.node, result).Inc()
}

func (m NodeMetrics) Exchange(role, result string) {
	ExchangesTotal.WithLabelValues(m.node, role, result).Inc()
}

func (m NodeMetrics) Forwarded() {
	PacketsForwarded.WithLabelValues(m.node).Inc()
}

func (m NodeMetrics) Dropped(reason string) {
	PacketsDropped.WithLabelValues(m.node, reason).Inc()
}

func (m NodeMetrics) Delivered() {
	PacketsDelivered.WithLabelValues(m.node).Inc()
}

func (m NodeMetrics) Saved(bytes int) {
	if bytes > 0 {
		BytesSaved.WithLabelValues(m.node).Add(float64(bytes))
	}
}

func (m NodeMetrics) Buffer(n int) {
	BufferOccupancy.WithLabelValues(m.node).Set(float64(n))
}

func (m NodeMetrics) Energy(ratio float64, band int) {
	EnergyRatio.WithLabelValues(m.node).Set(ratio)
	EnergyBand.WithLabelValues(m.node).Set(float64(band))
}
