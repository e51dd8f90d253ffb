package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ScenarioCollector exposes the size of a built scenario and the traffic seen while it runs.
type ScenarioCollector struct {
	gatherer prometheus.Gatherer

	Nodes   prometheus.Gauge
	Devices prometheus.Gauge
	Links   prometheus.Gauge
	Cells   prometheus.Gauge
	Blocks  prometheus.Gauge

	ProbesSent       prometheus.Counter
	RepliesReceived  prometheus.Counter
	PacketsDelivered prometheus.Counter
	PacketsDropped   *prometheus.CounterVec
	Hops             *prometheus.CounterVec
}

// NewScenarioCollector registers scenario metrics against the provided registerer.
// A nil registerer selects a private registry, so building many scenarios in one
// process never collides on metric names.
func NewScenarioCollector(reg prometheus.Registerer) (*ScenarioCollector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &ScenarioCollector{gatherer: gatherer}
	var err error

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.Nodes, "netscen_nodes", "Number of nodes in the scenario."},
		{&c.Devices, "netscen_devices", "Number of network devices in the scenario."},
		{&c.Links, "netscen_links", "Number of wired links in the scenario."},
		{&c.Cells, "netscen_cells", "Number of wireless cells in the scenario."},
		{&c.Blocks, "netscen_address_blocks", "Number of address blocks allocated."},
	}
	for _, g := range gauges {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help})
		if *g.dst, err = registerGauge(reg, gauge, g.name); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.ProbesSent, "netscen_probes_sent_total", "Echo probes sent by clients."},
		{&c.RepliesReceived, "netscen_replies_received_total", "Echo replies received by clients."},
		{&c.PacketsDelivered, "netscen_packets_delivered_total", "Packets delivered to a bound socket."},
	}
	for _, ct := range counters {
		counter := prometheus.NewCounter(prometheus.CounterOpts{Name: ct.name, Help: ct.help})
		if *ct.dst, err = registerCounter(reg, counter, ct.name); err != nil {
			return nil, err
		}
	}

	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netscen_packets_dropped_total",
		Help: "Packets dropped, by reason.",
	}, []string{"reason"})
	if c.PacketsDropped, err = registerCounterVec(reg, dropped, "netscen_packets_dropped_total"); err != nil {
		return nil, err
	}

	hops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netscen_hops_total",
		Help: "Packet transmissions over a single hop, by medium.",
	}, []string{"medium"})
	if c.Hops, err = registerCounterVec(reg, hops, "netscen_hops_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ScenarioCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetScenarioCounts updates the scenario size gauges.
func (c *ScenarioCollector) SetScenarioCounts(nodes, devices, links, cells, blocks int) {
	if c == nil {
		return
	}
	c.Nodes.Set(float64(nodes))
	c.Devices.Set(float64(devices))
	c.Links.Set(float64(links))
	c.Cells.Set(float64(cells))
	c.Blocks.Set(float64(blocks))
}

// IncProbes counts one echo probe sent.
func (c *ScenarioCollector) IncProbes() {
	if c == nil {
		return
	}
	c.ProbesSent.Inc()
}

// IncReplies counts one echo reply received.
func (c *ScenarioCollector) IncReplies() {
	if c == nil {
		return
	}
	c.RepliesReceived.Inc()
}

// IncDelivered counts one packet handed to a socket.
func (c *ScenarioCollector) IncDelivered() {
	if c == nil {
		return
	}
	c.PacketsDelivered.Inc()
}

// IncDropped counts one dropped packet.
func (c *ScenarioCollector) IncDropped(reason string) {
	if c == nil {
		return
	}
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// IncHop counts one transmission over a hop of the given medium.
func (c *ScenarioCollector) IncHop(medium string) {
	if c == nil {
		return
	}
	c.Hops.WithLabelValues(medium).Inc()
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
