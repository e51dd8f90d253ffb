package netscen

// scenario.go assembles a complete scenario from ScenarioParams and runs it.
//
// Build executes the construction stages strictly in order: roles, links, cells, mobility,
// addresses, routes, capture, traffic.  Each stage reads only what earlier stages produced and
// the first failure abandons the build.  Nothing is registered with the event clock until the
// traffic stage, so a failed build never leaves a half-scheduled run behind

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iti/netscen/internal/logging"
	"github.com/iti/netscen/internal/observability"
)

// Names of the groups Build creates
const (
	BackboneGroup = "backbone"
	LanGroup      = "lan"
	SegmentGroup  = "segment"
)

// StationGroup names the station group of a cell
func StationGroup(ssid string) string {
	return ssid + "-sta"
}

// APGroup names the (alias) group holding the access point of a cell
func APGroup(ssid string) string {
	return ssid + "-ap"
}

// Options carries the collaborators Build does not create itself.  Every field is optional
type Options struct {
	Logger     logging.Logger
	Registerer prometheus.Registerer

	// Placement overrides the placement the parameters select
	Placement Placement
}

// Scenario is a fully built, runnable scenario
type Scenario struct {
	Params *ScenarioParams
	RunID  string

	Allocator *RoleAllocator
	Devices   *DeviceTable
	Fabric    *LinkFabricBuilder
	Cells     *WirelessCellBuilder
	Mobility  *MobilityAssigner
	Planner   *AddressPlanner
	Stack     *IPStack
	Blocks    []*AddressBlock
	Capture   *CaptureManager
	Context   *SimulationContext
	Portal    *NetworkPortal
	Traffic   *TrafficScheduler
	Metrics   *observability.ScenarioCollector

	Server  *EchoServer
	Clients []*EchoClient

	backbone   *NodeGroup
	cellBlocks map[string]*AddressBlock
	placement  Placement
	logger     logging.Logger
	ran        bool
}

// Build validates the parameters and assembles the scenario they describe
func Build(params *ScenarioParams, opts Options) (*Scenario, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	metrics, err := observability.NewScenarioCollector(opts.Registerer)
	if err != nil {
		return nil, err
	}

	s := &Scenario{Params: params, RunID: uuid.NewString(), Metrics: metrics,
		cellBlocks: make(map[string]*AddressBlock), placement: opts.Placement}
	s.logger = logger.With(logging.String("scenario", params.Name), logging.String("run", s.RunID))

	stages := []struct {
		name string
		run  func() error
	}{
		{"roles", s.allocateRoles},
		{"links", s.buildLinks},
		{"cells", s.buildCells},
		{"mobility", s.assignMobility},
		{"addresses", s.planAddresses},
		{"routes", s.populateRoutes},
		{"capture", s.enableCapture},
		{"traffic", s.installTraffic},
	}
	for _, stage := range stages {
		if err := stage.run(); err != nil {
			return nil, fmt.Errorf("%s: %w", stage.name, err)
		}
		s.logger.Debug(context.Background(), "stage complete", logging.String("stage", stage.name))
	}

	metrics.SetScenarioCounts(len(s.Allocator.Nodes()), len(s.Devices.Devices()), len(s.Fabric.Links()),
		len(s.Cells.Cells()), len(s.Blocks))
	s.logger.Info(context.Background(), "scenario built",
		logging.String("family", string(params.Family)),
		logging.Int("nodes", len(s.Allocator.Nodes())),
		logging.Int("devices", len(s.Devices.Devices())),
		logging.Int("blocks", len(s.Blocks)),
		logging.Int("events", s.Context.Events()))
	return s, nil
}

// allocateRoles creates every owning group in one call, so a size out of bounds leaves no node
// behind, then the alias groups over the backbone endpoints.  Wired lan nodes are end nodes
// and share the placement bound of the stations
func (s *Scenario) allocateRoles() error {
	p := s.Params
	s.Allocator = CreateRoleAllocator()

	bound := p.EffectiveStationBound()
	specs := []GroupSpec{{Name: BackboneGroup, Role: RoleBackbone, Size: len(p.Cells)}}
	if p.Family == FamilyLanCell {
		specs = append(specs, GroupSpec{Name: LanGroup, Role: RoleStation, Size: p.LanNodes, Bound: bound})
	}
	for _, cp := range p.Cells {
		specs = append(specs, GroupSpec{Name: StationGroup(cp.SSID), Role: RoleStation, Size: cp.Stations, Bound: bound})
	}

	groups, err := s.Allocator.Allocate(specs)
	if err != nil {
		return err
	}
	s.backbone = groups[0]

	for idx, cp := range p.Cells {
		if _, err := s.Allocator.Alias(APGroup(cp.SSID), RoleInfrastructure, s.accessPoint(idx)); err != nil {
			return err
		}
	}
	if p.Family == FamilyLanCell {
		members := append(append([]*Node{}, s.backbone.Nodes...), groups[1].Nodes...)
		if _, err := s.Allocator.Alias(SegmentGroup, "", members...); err != nil {
			return err
		}
	}
	return nil
}

// accessPoint returns the backbone endpoint coordinating the idx-th cell.  Cells take the
// endpoints from the far end of the chain, so the first cell's access point holds the last
// backbone address
func (s *Scenario) accessPoint(idx int) *Node {
	return s.backbone.Get(s.backbone.Len() - 1 - idx)
}

func (s *Scenario) buildLinks() error {
	p := s.Params
	s.Devices = CreateDeviceTable()
	s.Fabric = CreateLinkFabricBuilder(s.Devices)

	switch p.Family {
	case FamilyDualCell:
		for idx := 0; idx+1 < s.backbone.Len(); idx++ {
			name := fmt.Sprintf("%s-%d", BackboneGroup, idx)
			if _, _, err := s.Fabric.PointToPoint(name, p.Backbone, s.backbone.Get(idx), s.backbone.Get(idx+1)); err != nil {
				return err
			}
		}
	case FamilyLanCell:
		segment, err := s.Allocator.Group(SegmentGroup)
		if err != nil {
			return err
		}
		if _, _, err := s.Fabric.Shared(SegmentGroup, p.Backbone, segment.Nodes...); err != nil {
			return err
		}
	}

	for _, lnk := range s.Fabric.Links() {
		s.logger.Debug(context.Background(), "link built", logging.String("link", lnk.String()))
	}
	return nil
}

func (s *Scenario) buildCells() error {
	s.Cells = CreateWirelessCellBuilder(s.Devices)
	for idx, cp := range s.Params.Cells {
		ch, err := s.Cells.CreateChannel(ChannelConfig{Name: cp.SSID, DataRate: cp.DataRate, Manager: cp.Manager})
		if err != nil {
			return err
		}
		stations, err := s.Allocator.Group(StationGroup(cp.SSID))
		if err != nil {
			return err
		}
		cell, err := s.Cells.Build(cp.SSID, ch, s.accessPoint(idx), stations, StationConfig{ActiveProbing: cp.ActiveProbing})
		if err != nil {
			return err
		}
		s.logger.Debug(context.Background(), "cell built", logging.String("ssid", cell.SSID),
			logging.String("channel", ch.String()), logging.Int("stations", len(cell.Members)),
			logging.Bool("activeprobing", cp.ActiveProbing))
	}
	return nil
}

func (s *Scenario) assignMobility() error {
	p := s.Params
	placement := s.placement
	if placement == nil {
		if len(p.Placement.Random) > 0 {
			placement = CreateRandomPlacement(p.Placement.Random, p.Seed, p.Placement.Box)
		} else {
			placement = p.Placement.Grid
		}
	}
	s.Mobility = CreateMobilityAssigner(placement, p.Placement.Box)

	for _, cp := range p.Cells {
		stations, err := s.Allocator.Group(StationGroup(cp.SSID))
		if err != nil {
			return err
		}
		profile := MobilityProfile{Kind: Stationary, Positions: cp.Positions}
		if cp.Velocity != nil {
			profile.Kind = ConstantVelocity
		}
		if err := s.Mobility.Install(stations, profile, true); err != nil {
			return err
		}
		if cp.Velocity != nil {
			velocity := *cp.Velocity
			if err := s.Mobility.SetVelocity(stations, func(int, *Node) Vector { return velocity }); err != nil {
				return err
			}
		}

		ap, err := s.Allocator.Group(APGroup(cp.SSID))
		if err != nil {
			return err
		}
		if err := s.Mobility.Install(ap, MobilityProfile{Kind: Stationary}, false); err != nil {
			return err
		}
	}

	if p.Family == FamilyLanCell {
		lan, err := s.Allocator.Group(LanGroup)
		if err != nil {
			return err
		}
		if err := s.Mobility.Install(lan, MobilityProfile{Kind: Stationary}, false); err != nil {
			return err
		}
	}
	return CheckPositioned(s.attachedNodes())
}

func (s *Scenario) planAddresses() error {
	p := s.Params
	s.Stack = CreateIPStack()
	s.Stack.InstallStack(s.Allocator.Nodes()...)

	planner, err := CreateAddressPlanner(p.AddressSpace, p.FirstBlock)
	if err != nil {
		return err
	}
	s.Planner = planner

	reqs := make([]BlockRequest, 0, len(s.Fabric.Links())+len(s.Cells.Cells()))
	for _, lnk := range s.Fabric.Links() {
		reqs = append(reqs, BlockRequest{Name: lnk.Name, Devices: lnk.Devices, Bits: p.BlockBits})
	}
	for _, cell := range s.Cells.Cells() {
		reqs = append(reqs, BlockRequest{Name: cell.SSID, Devices: cell.Devices(), Bits: p.BlockBits})
	}

	blocks, err := planner.Plan(s.Stack, reqs)
	if err != nil {
		return err
	}
	s.Blocks = blocks
	for _, ab := range blocks[len(s.Fabric.Links()):] {
		s.cellBlocks[ab.Name] = ab
	}
	return nil
}

func (s *Scenario) populateRoutes() error {
	return s.Stack.PopulateRoutingTables(s.Fabric.Links(), s.Cells.Cells())
}

func (s *Scenario) enableCapture() error {
	cp := s.Params.Capture
	s.Capture = CreateCaptureManager(s.Params.Name)
	s.Capture.RunID = s.RunID

	prefix := cp.Prefix
	if len(prefix) == 0 {
		prefix = s.Params.Name
	}

	links := s.Fabric.Links()
	switch cp.Backbone {
	case CaptureAll, "":
		for _, lnk := range links {
			if err := s.Capture.EnableCapture(lnk, prefix); err != nil {
				return err
			}
		}
	case CaptureFirst:
		if len(links) > 0 {
			if err := s.Capture.EnableCapture(links[0].Devices.Get(0), prefix); err != nil {
				return err
			}
		}
	}
	if cp.APs {
		for _, cell := range s.Cells.Cells() {
			if err := s.Capture.EnableCapture(cell.Coordinator, prefix); err != nil {
				return err
			}
		}
	}
	s.logger.Debug(context.Background(), "capture enabled", logging.Strings("labels", s.Capture.Labels()))
	return nil
}

func (s *Scenario) installTraffic() error {
	p := s.Params
	tp := p.Traffic

	clients, err := s.Allocator.Group(p.ClientGroupName())
	if err != nil {
		return err
	}
	serverBlock := s.cellBlocks[p.Cells[tp.ServerCell].SSID]

	s.Context = CreateSimulationContext()
	s.Portal = CreateNetworkPortal(s.Context, s.Stack, s.Capture, s.Metrics, s.logger)
	s.Traffic = CreateTrafficScheduler(s.Context, s.Portal, p.StopTime, p.Epsilon, s.logger, s.Metrics)

	sched := TrafficSchedule{ServerBlock: serverBlock, ServerIndex: tp.ServerStation, Port: tp.Port,
		Clients: clients, Server: tp.Server, Client: tp.Client, PacketSize: tp.PacketSize,
		MaxPackets: tp.MaxPackets, Interval: tp.Interval, StartJitter: tp.StartJitter, Seed: p.Seed}
	s.Server, s.Clients, err = s.Traffic.Install(sched)
	return err
}

// attachedNodes returns every node holding a device, in node order.  These are the nodes the
// address stage will address
func (s *Scenario) attachedNodes() []*Node {
	rtn := make([]*Node, 0)
	for _, node := range s.Allocator.Nodes() {
		if len(node.Devices) > 0 {
			rtn = append(rtn, node)
		}
	}
	return rtn
}

// addressedNodes returns every node holding an address, in node order
func (s *Scenario) addressedNodes() []*Node {
	rtn := make([]*Node, 0)
	for _, node := range s.Allocator.Nodes() {
		if len(s.Stack.Interfaces(node)) > 0 {
			rtn = append(rtn, node)
		}
	}
	return rtn
}

// Group looks up a node group by name
func (s *Scenario) Group(name string) (*NodeGroup, error) {
	return s.Allocator.Group(name)
}

// CellBlock returns the address block of the cell with the given SSID
func (s *Scenario) CellBlock(ssid string) (*AddressBlock, bool) {
	ab, present := s.cellBlocks[ssid]
	return ab, present
}

// Run checks the construction invariants, runs the clock to the stop time, destroys the
// context, and reports what happened.  A scenario runs once
func (s *Scenario) Run() (*RunReport, error) {
	if s.ran {
		return nil, fmt.Errorf("%w: scenario %s already ran", ErrContextFinished, s.Params.Name)
	}
	if err := CheckPositioned(s.addressedNodes()); err != nil {
		return nil, err
	}
	if !s.Stack.Populated() {
		return nil, ErrRoutesNotReady
	}

	s.ran = true
	if err := s.Context.Run(s.Params.StopTime); err != nil {
		return nil, err
	}
	report := s.report()
	s.Context.Destroy()

	s.logger.Info(context.Background(), "scenario run complete",
		logging.Int("probes", report.ProbesSent),
		logging.Int("replies", report.Replies),
		logging.Int("dropped", report.DroppedTotal()),
		logging.Any("drops", report.Dropped))
	return report, nil
}

// ClientReport summarizes one echo client
type ClientReport struct {
	Node    string  `json:"node" yaml:"node"`
	Local   string  `json:"local" yaml:"local"`
	Sent    int     `json:"sent" yaml:"sent"`
	Replies int     `json:"replies" yaml:"replies"`
	MeanRTT float64 `json:"meanrtt" yaml:"meanrtt"`
}

// RunReport summarizes a run
type RunReport struct {
	RunID    string  `json:"runid" yaml:"runid"`
	Name     string  `json:"name" yaml:"name"`
	StopTime float64 `json:"stoptime" yaml:"stoptime"`

	Nodes   int `json:"nodes" yaml:"nodes"`
	Devices int `json:"devices" yaml:"devices"`
	Blocks  int `json:"blocks" yaml:"blocks"`

	Server     string         `json:"server" yaml:"server"`
	Received   int            `json:"received" yaml:"received"`
	ProbesSent int            `json:"probessent" yaml:"probessent"`
	Replies    int            `json:"replies" yaml:"replies"`
	Delivered  int            `json:"delivered" yaml:"delivered"`
	Dropped    map[string]int `json:"dropped" yaml:"dropped"`
	Captured   int            `json:"captured" yaml:"captured"`
	Clients    []ClientReport `json:"clients" yaml:"clients"`
}

// DroppedTotal sums the drops over every reason
func (rr *RunReport) DroppedTotal() int {
	total := 0
	for _, count := range rr.Dropped {
		total += count
	}
	return total
}

// WriteToFile stores the report to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (rr *RunReport) WriteToFile(filename string) error {
	return writeByExt(filename, *rr)
}

func (s *Scenario) report() *RunReport {
	rr := &RunReport{RunID: s.RunID, Name: s.Params.Name, StopTime: s.Params.StopTime,
		Nodes: len(s.Allocator.Nodes()), Devices: len(s.Devices.Devices()), Blocks: len(s.Blocks),
		Server: s.Server.Local.String(), Received: s.Server.Received,
		Delivered: s.Portal.Delivered(), Dropped: s.Portal.Dropped(), Captured: s.Capture.Count(),
		Clients: make([]ClientReport, 0, len(s.Clients))}

	for _, client := range s.Clients {
		cr := ClientReport{Node: client.Node.Name, Local: client.Local.String(), Sent: client.Sent,
			Replies: client.Replies}
		if len(client.RTTs) > 0 {
			sum := 0.0
			for _, rtt := range client.RTTs {
				sum += rtt
			}
			cr.MeanRTT = sum / float64(len(client.RTTs))
		}
		rr.ProbesSent += client.Sent
		rr.Replies += client.Replies
		rr.Clients = append(rr.Clients, cr)
	}
	return rr
}
