package netscen

// flow.go holds the request/response traffic of a scenario: the TrafficSchedule that describes
// it, the echo server and echo client applications, and the TrafficScheduler that validates a
// schedule and installs the applications on the event clock.
//
// Every application moves through Unconfigured -> Scheduled -> Running -> Stopped.  Install
// registers the two transitions of each application as events; the clock drives the rest.
// A stopped client sends nothing more but still counts the replies that reach it

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/iti/evt/evtm"
	"github.com/iti/rngstream"

	"github.com/iti/netscen/internal/logging"
	"github.com/iti/netscen/internal/observability"
)

// AppState is the lifecycle state of an application
type AppState int

const (
	AppUnconfigured AppState = iota
	AppScheduled
	AppRunning
	AppStopped
)

var appStateToStr = map[AppState]string{AppUnconfigured: "unconfigured", AppScheduled: "scheduled",
	AppRunning: "running", AppStopped: "stopped"}

func (as AppState) String() string {
	return appStateToStr[as]
}

// AppWindow is the interval [Start, Stop] (seconds) during which an application runs
type AppWindow struct {
	Start float64 `json:"start" yaml:"start"`
	Stop  float64 `json:"stop" yaml:"stop"`
}

// DefaultEpsilon is the least lead the server must have over the first client
const DefaultEpsilon = 1e-9

// TrafficSchedule describes one echo exchange: a server, found as the ServerIndex-th device of
// an address block, and a client on every node of a group
type TrafficSchedule struct {
	ServerBlock *AddressBlock
	ServerIndex int
	Port        uint16
	Clients     *NodeGroup

	Server AppWindow
	Client AppWindow

	PacketSize int
	MaxPackets int
	Interval   float64

	// StartJitter, when positive, delays each client start by a uniform draw in [0, StartJitter)
	StartJitter float64

	// Seed fixes the jitter draws; equal seeds give equal client start times
	Seed uint64
}

// Validate checks the schedule against itself and against the simulation stop time.
// Every violation found is reported
func (sched *TrafficSchedule) Validate(simStop, eps float64) error {
	errs := make([]error, 0)

	if sched.ServerBlock == nil {
		errs = append(errs, fmt.Errorf("%w: traffic schedule has no server block", ErrConfiguration))
	} else if sched.ServerIndex < 0 || sched.ServerIndex >= len(sched.ServerBlock.Devices) {
		errs = append(errs, fmt.Errorf("%w: server index %d outside block %s of %d devices", ErrConfiguration,
			sched.ServerIndex, sched.ServerBlock.Name, len(sched.ServerBlock.Devices)))
	}
	if sched.Port == 0 {
		errs = append(errs, fmt.Errorf("%w: server port must be non-zero", ErrConfiguration))
	}
	if sched.Clients == nil {
		errs = append(errs, fmt.Errorf("%w: traffic schedule has no client group", ErrConfiguration))
	}

	errs = append(errs, validateTiming(sched.Server, sched.Client, sched.StartJitter, sched.Interval, simStop, eps)...)
	if sched.PacketSize < 0 || sched.MaxPackets < 0 || sched.StartJitter < 0 {
		errs = append(errs, fmt.Errorf("%w: packet size, packet count and jitter must be non-negative", ErrConfiguration))
	}
	return ReportErrs(errs)
}

// validateTiming checks the server and client windows against each other and against the
// simulation stop time.  The client window must lie within the server window, so the server
// is Running for as long as any client is
func validateTiming(server, client AppWindow, jitter, interval, simStop, eps float64) []error {
	errs := make([]error, 0)
	if !(server.Start < server.Stop) {
		errs = append(errs, fmt.Errorf("%w: server start %g is not before server stop %g", ErrTiming,
			server.Start, server.Stop))
	}
	if server.Start < 0 || client.Start < 0 {
		errs = append(errs, fmt.Errorf("%w: negative start time", ErrTiming))
	}
	if client.Start < server.Start+eps {
		errs = append(errs, fmt.Errorf("%w: client start %g does not follow server start %g", ErrTiming,
			client.Start, server.Start))
	}
	if client.Start >= server.Stop {
		errs = append(errs, fmt.Errorf("%w: client start %g is not before server stop %g", ErrTiming,
			client.Start, server.Stop))
	}
	if client.Stop > server.Stop {
		errs = append(errs, fmt.Errorf("%w: client stop %g is after server stop %g", ErrTiming,
			client.Stop, server.Stop))
	}
	if !(client.Start+jitter < client.Stop) {
		errs = append(errs, fmt.Errorf("%w: client start %g (jitter %g) is not before client stop %g", ErrTiming,
			client.Start, jitter, client.Stop))
	}
	if client.Stop > simStop {
		errs = append(errs, fmt.Errorf("%w: client stop %g is after simulation stop %g", ErrTiming,
			client.Stop, simStop))
	}
	if server.Stop > simStop {
		errs = append(errs, fmt.Errorf("%w: server stop %g is after simulation stop %g", ErrTiming,
			server.Stop, simStop))
	}
	if !(interval > 0) {
		errs = append(errs, fmt.Errorf("%w: interval %g must be positive", ErrTiming, interval))
	}
	return errs
}

// application is implemented by the echo server and client so one pair of event handlers
// can drive both through their lifecycle
type application interface {
	start()
	stop()
}

// appStart is the event handler for Scheduled -> Running
func appStart(evtMgr *evtm.EventManager, context any, data any) any {
	context.(application).start()
	return nil
}

// appStop is the event handler for Running -> Stopped
func appStop(evtMgr *evtm.EventManager, context any, data any) any {
	context.(application).stop()
	return nil
}

// EchoServer answers every probe it receives while running with a reply of the same size
type EchoServer struct {
	Node   *Node
	Local  netip.AddrPort
	Window AppWindow
	State  AppState

	Received int
	Echoed   int

	np     *NetworkPortal
	logger logging.Logger
}

func (es *EchoServer) start() {
	es.State = AppRunning
}

func (es *EchoServer) stop() {
	es.State = AppStopped
}

// Receive is called by the network portal when a packet arrives at the server socket
func (es *EchoServer) Receive(np *NetworkPortal, pkt *Packet) {
	if es.State != AppRunning {
		np.drop(pkt, "server-"+es.State.String(), nil)
		return
	}
	es.Received += 1
	now := np.sc.Now()
	es.logger.Info(context.Background(), "server received packet",
		logging.String("time", fmtTime(now)), logging.Int("bytes", pkt.Size),
		logging.String("from", pkt.Src.String()))

	if _, err := np.Send(ReplyPacket, es.Local, pkt.Src, pkt.Size, pkt.Seq); err != nil {
		es.logger.Error(context.Background(), "echo failed", logging.Err(err))
		return
	}
	es.Echoed += 1
	es.logger.Info(context.Background(), "server sent packet",
		logging.String("time", fmtTime(now)), logging.Int("bytes", pkt.Size),
		logging.String("to", pkt.Src.String()))
}

// EchoClient sends MaxPackets probes to Remote, Interval apart, from its start time
type EchoClient struct {
	Node   *Node
	Local  netip.AddrPort
	Remote netip.AddrPort
	Window AppWindow
	State  AppState

	PacketSize int
	MaxPackets int
	Interval   float64

	Sent    int
	Replies int

	// RTTs holds the round trip time of every reply, in arrival order
	RTTs []float64

	np      *NetworkPortal
	logger  logging.Logger
	metrics *observability.ScenarioCollector
}

func (ec *EchoClient) start() {
	ec.State = AppRunning
	ec.send()
}

func (ec *EchoClient) stop() {
	ec.State = AppStopped
}

func (ec *EchoClient) send() {
	if ec.State != AppRunning || ec.Sent >= ec.MaxPackets {
		return
	}
	now := ec.np.sc.Now()
	if _, err := ec.np.Send(ProbePacket, ec.Local, ec.Remote, ec.PacketSize, ec.Sent); err != nil {
		ec.logger.Error(context.Background(), "probe failed", logging.Err(err))
		return
	}
	ec.Sent += 1
	ec.metrics.IncProbes()
	ec.logger.Info(context.Background(), "client sent packet",
		logging.String("time", fmtTime(now)), logging.Int("bytes", ec.PacketSize),
		logging.String("to", ec.Remote.String()))

	if ec.Sent < ec.MaxPackets {
		ec.np.sc.After(ec.Interval, ec, nil, clientSend)
	}
}

// clientSend is the event handler for the next probe of a client
func clientSend(evtMgr *evtm.EventManager, context any, data any) any {
	context.(*EchoClient).send()
	return nil
}

// Receive is called by the network portal when a reply arrives at the client socket
func (ec *EchoClient) Receive(np *NetworkPortal, pkt *Packet) {
	now := np.sc.Now()
	ec.Replies += 1
	rtt := now - pkt.Sent
	ec.RTTs = append(ec.RTTs, rtt)
	ec.metrics.IncReplies()
	ec.logger.Info(context.Background(), "client received packet",
		logging.String("time", fmtTime(now)), logging.Int("bytes", pkt.Size),
		logging.String("from", pkt.Src.String()), logging.Float("rtt", rtt))
}

// TrafficScheduler validates schedules and installs their applications
type TrafficScheduler struct {
	sc      *SimulationContext
	np      *NetworkPortal
	simStop float64
	eps     float64
	logger  logging.Logger
	metrics *observability.ScenarioCollector

	servers []*EchoServer
	clients []*EchoClient
}

// CreateTrafficScheduler is a constructor.  simStop is the global stop time every application
// window must respect
func CreateTrafficScheduler(sc *SimulationContext, np *NetworkPortal, simStop, eps float64,
	logger logging.Logger, metrics *observability.ScenarioCollector) *TrafficScheduler {
	if logger == nil {
		logger = logging.Noop()
	}
	ts := new(TrafficScheduler)
	ts.sc = sc
	ts.np = np
	ts.simStop = simStop
	ts.eps = eps
	ts.logger = logger
	ts.metrics = metrics
	ts.servers = make([]*EchoServer, 0)
	ts.clients = make([]*EchoClient, 0)
	return ts
}

// Install validates the schedule and, only if it is valid, creates the server and one client per
// client node and registers their start and stop events.  The server listens on the address
// the block gave its ServerIndex-th device; every client uses its node's first interface.
// A failed Install leaves no socket bound and no event registered
func (ts *TrafficScheduler) Install(sched TrafficSchedule) (*EchoServer, []*EchoClient, error) {
	if err := sched.Validate(ts.simStop, ts.eps); err != nil {
		return nil, nil, err
	}

	srvDev := sched.ServerBlock.Devices[sched.ServerIndex]
	srvAddr := sched.ServerBlock.Address(sched.ServerIndex)

	clientAddrs := make([]netip.Addr, sched.Clients.Len())
	errs := make([]error, 0)
	for idx, node := range sched.Clients.Nodes {
		intrfcs := ts.np.stack.Interfaces(node)
		if len(intrfcs) == 0 {
			errs = append(errs, fmt.Errorf("%w: client node %s", ErrNotAddressed, node.Name))
			continue
		}
		clientAddrs[idx] = intrfcs[0].Addr
	}
	if err := ReportErrs(errs); err != nil {
		return nil, nil, err
	}

	server := &EchoServer{Node: srvDev.Node, Window: sched.Server, State: AppUnconfigured, np: ts.np,
		logger: ts.logger.With(logging.String("app", "echo-server"), logging.String("node", srvDev.Node.Name))}

	var rng *rngstream.RngStream
	if sched.StartJitter > 0 {
		rng = seededStream("netscen-start-jitter", sched.Seed)
	}
	clients := make([]*EchoClient, 0, sched.Clients.Len())
	for _, node := range sched.Clients.Nodes {
		client := &EchoClient{Node: node, State: AppUnconfigured,
			Window: sched.Client, PacketSize: sched.PacketSize, MaxPackets: sched.MaxPackets,
			Interval: sched.Interval, RTTs: make([]float64, 0), np: ts.np, metrics: ts.metrics,
			logger: ts.logger.With(logging.String("app", "echo-client"), logging.String("node", node.Name))}
		if rng != nil {
			client.Window.Start += rng.RandU01() * sched.StartJitter
		}
		clients = append(clients, client)
	}

	// every event time is checked before anything is bound or registered
	if err := ts.sc.CanSchedule(server.Window.Start); err != nil {
		return nil, nil, err
	}
	for _, client := range clients {
		if err := ts.sc.CanSchedule(client.Window.Start); err != nil {
			return nil, nil, err
		}
	}

	bound := make([]netip.AddrPort, 0, len(clients)+1)
	release := func(err error) (*EchoServer, []*EchoClient, error) {
		for _, ap := range bound {
			ts.np.Unbind(ap)
		}
		return nil, nil, err
	}
	local, err := ts.np.Bind(srvAddr, sched.Port, server)
	if err != nil {
		return release(err)
	}
	bound = append(bound, local)
	server.Local = local
	for idx, client := range clients {
		client.Remote = local
		if client.Local, err = ts.np.Bind(clientAddrs[idx], 0, client); err != nil {
			return release(err)
		}
		bound = append(bound, client.Local)
	}

	// server events are registered first so a tie at equal times favours the server
	if err := ts.register(server, server.Window, &server.State); err != nil {
		return release(err)
	}
	for _, client := range clients {
		if err := ts.register(client, client.Window, &client.State); err != nil {
			return release(err)
		}
	}

	ts.servers = append(ts.servers, server)
	ts.clients = append(ts.clients, clients...)
	ts.logger.Debug(context.Background(), "traffic installed",
		logging.String("server", local.String()), logging.Int("clients", len(clients)))
	return server, clients, nil
}

func (ts *TrafficScheduler) register(app application, window AppWindow, state *AppState) error {
	if err := ts.sc.Schedule(window.Start, app, nil, appStart); err != nil {
		return err
	}
	if err := ts.sc.Schedule(window.Stop, app, nil, appStop); err != nil {
		return err
	}
	*state = AppScheduled
	return nil
}

// Servers returns the installed servers in installation order
func (ts *TrafficScheduler) Servers() []*EchoServer {
	return ts.servers
}

// Clients returns the installed clients in installation order
func (ts *TrafficScheduler) Clients() []*EchoClient {
	return ts.clients
}
