package netscen

// param.go holds ScenarioParams, the complete, serializable description of what Build should
// assemble, with the two presets the package ships and the checks run on a parameter set
// before anything is constructed

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"golang.org/x/exp/slices"
)

// Family selects how the backbone and the cells are joined
type Family string

const (
	// FamilyDualCell chains the cells' access points with point-to-point links
	FamilyDualCell Family = "dual-cell"

	// FamilyLanCell puts the cells' access points on one shared segment with wired-only nodes
	FamilyLanCell Family = "lan-cell"
)

// Families lists the recognized topology families
var Families = []Family{FamilyDualCell, FamilyLanCell}

// CellParams configures one wireless cell
type CellParams struct {
	SSID          string `json:"ssid" yaml:"ssid"`
	Stations      int    `json:"stations" yaml:"stations"`
	DataRate      string `json:"datarate" yaml:"datarate"`
	Manager       string `json:"manager" yaml:"manager"`
	ActiveProbing bool   `json:"activeprobing" yaml:"activeprobing"`

	// Velocity, when set, makes every station move at constant velocity; otherwise stations stand still
	Velocity *Vector `json:"velocity,omitempty" yaml:"velocity,omitempty"`

	// Positions optionally fixes the station positions, one per station
	Positions []Vector `json:"positions,omitempty" yaml:"positions,omitempty"`
}

// TrafficParams configures the echo exchange
type TrafficParams struct {
	// ServerCell and ServerStation locate the server: a station (by index) of a cell (by index)
	ServerCell    int    `json:"servercell" yaml:"servercell"`
	ServerStation int    `json:"serverstation" yaml:"serverstation"`
	Port          uint16 `json:"port" yaml:"port"`

	// ClientGroup names the node group that runs clients; empty selects the family default
	ClientGroup string `json:"clientgroup,omitempty" yaml:"clientgroup,omitempty"`

	Server AppWindow `json:"server" yaml:"server"`
	Client AppWindow `json:"client" yaml:"client"`

	PacketSize  int     `json:"packetsize" yaml:"packetsize"`
	MaxPackets  int     `json:"maxpackets" yaml:"maxpackets"`
	Interval    float64 `json:"interval" yaml:"interval"`
	StartJitter float64 `json:"startjitter,omitempty" yaml:"startjitter,omitempty"`
}

// Capture scopes for the backbone
const (
	CaptureAll   = "all"
	CaptureFirst = "first"
	CaptureNone  = "none"
)

// CaptureParams selects what is captured
type CaptureParams struct {
	Prefix   string `json:"prefix" yaml:"prefix"`
	Backbone string `json:"backbone" yaml:"backbone"`
	APs      bool   `json:"aps" yaml:"aps"`
}

// PlacementParams configures default node placement
type PlacementParams struct {
	Grid GridPlacement `json:"grid" yaml:"grid"`
	Box  BoundingBox   `json:"box" yaml:"box"`

	// Random, when set, names the rngstream stream that draws positions uniformly in Box
	Random string `json:"random,omitempty" yaml:"random,omitempty"`
}

// ScenarioParams is everything Build needs
type ScenarioParams struct {
	Name   string `json:"name" yaml:"name"`
	Family Family `json:"family" yaml:"family"`

	Backbone LinkAttrs    `json:"backbone" yaml:"backbone"`
	LanNodes int          `json:"lannodes" yaml:"lannodes"`
	Cells    []CellParams `json:"cells" yaml:"cells"`

	// StationBound caps the stations of a cell; zero derives it from the placement grid and box
	StationBound int             `json:"stationbound" yaml:"stationbound"`
	Placement    PlacementParams `json:"placement" yaml:"placement"`

	// Seed fixes every random draw of a build: random placement and client start jitter.
	// Builds from equal parameters are identical
	Seed uint64 `json:"seed" yaml:"seed"`

	AddressSpace string `json:"addressspace" yaml:"addressspace"`
	FirstBlock   string `json:"firstblock" yaml:"firstblock"`
	BlockBits    int    `json:"blockbits" yaml:"blockbits"`

	StopTime float64 `json:"stoptime" yaml:"stoptime"`
	Epsilon  float64 `json:"epsilon" yaml:"epsilon"`

	Traffic TrafficParams `json:"traffic" yaml:"traffic"`
	Capture CaptureParams `json:"capture" yaml:"capture"`

	Verbose bool `json:"verbose" yaml:"verbose"`
}

// DefaultSeed is the seed of the presets
const DefaultSeed uint64 = 12345

func defaultCell(ssid string, stations int) CellParams {
	ch := DefaultChannelConfig(ssid)
	return CellParams{SSID: ssid, Stations: stations, DataRate: ch.DataRate, Manager: ch.Manager}
}

// DefaultDualCellParams is two wireless cells whose access points are joined by a
// point-to-point link.  Stations of the first cell drift along x; the server is the
// first station of the second cell and every station of the first cell is a client
func DefaultDualCellParams() *ScenarioParams {
	cell1 := defaultCell("wifi_1", 4)
	cell1.Velocity = &Vector{X: 0.01}
	cell2 := defaultCell("wifi_2", 4)

	return &ScenarioParams{
		Name:         "dual-cell",
		Family:       FamilyDualCell,
		Backbone:     LinkAttrs{DataRate: "5Mbps", Delay: "2ms"},
		Cells:        []CellParams{cell1, cell2},
		Placement:    PlacementParams{Grid: DefaultGridPlacement(), Box: DefaultBoundingBox()},
		Seed:         DefaultSeed,
		AddressSpace: "10.1.0.0/16",
		FirstBlock:   "10.1.1.0",
		BlockBits:    24,
		StopTime:     10.0,
		Epsilon:      DefaultEpsilon,
		Traffic: TrafficParams{ServerCell: 1, ServerStation: 0, Port: 9,
			Server: AppWindow{Start: 1.0, Stop: 10.0}, Client: AppWindow{Start: 2.0, Stop: 10.0},
			PacketSize: 1024, MaxPackets: 2, Interval: 1.0},
		Capture: CaptureParams{Prefix: "third", Backbone: CaptureAll, APs: true},
		Verbose: true,
	}
}

// DefaultLanCellParams is one wireless cell whose access point also sits on a shared
// segment with four wired nodes.  The server is the first station; every node on the
// segment, the access point included, is a client
func DefaultLanCellParams() *ScenarioParams {
	cell := defaultCell("wifi_1", 4)
	cell.Velocity = &Vector{X: 0.01}

	return &ScenarioParams{
		Name:         "lan-cell",
		Family:       FamilyLanCell,
		Backbone:     LinkAttrs{DataRate: "100Mbps", Delay: "6560ns"},
		LanNodes:     4,
		Cells:        []CellParams{cell},
		Placement:    PlacementParams{Grid: DefaultGridPlacement(), Box: DefaultBoundingBox()},
		Seed:         DefaultSeed,
		AddressSpace: "10.1.0.0/16",
		FirstBlock:   "10.1.1.0",
		BlockBits:    24,
		StopTime:     10.0,
		Epsilon:      DefaultEpsilon,
		Traffic: TrafficParams{ServerCell: 0, ServerStation: 0, Port: 9,
			Server: AppWindow{Start: 1.0, Stop: 10.0}, Client: AppWindow{Start: 2.0, Stop: 10.0},
			PacketSize: 1024, MaxPackets: 1, Interval: 1.0},
		Capture: CaptureParams{Prefix: "third", Backbone: CaptureFirst, APs: true},
		Verbose: true,
	}
}

// Preset returns a fresh copy of the named preset, which is a family name
func Preset(name string) (*ScenarioParams, error) {
	switch Family(name) {
	case FamilyDualCell:
		return DefaultDualCellParams(), nil
	case FamilyLanCell:
		return DefaultLanCellParams(), nil
	}
	return nil, fmt.Errorf("%w: unknown preset %q (want one of %s)", ErrConfiguration, name, familyNames())
}

func familyNames() string {
	names := make([]string, len(Families))
	for idx, f := range Families {
		names[idx] = string(f)
	}
	return strings.Join(names, ", ")
}

// EffectiveStationBound is the per-cell station cap actually enforced
func (sp *ScenarioParams) EffectiveStationBound() int {
	if sp.StationBound > 0 {
		return sp.StationBound
	}
	return sp.Placement.Grid.Capacity(sp.Placement.Box)
}

// SetStations overrides the station count of each cell, in order.  Extra counts are an error
func (sp *ScenarioParams) SetStations(counts []int) error {
	if len(counts) > len(sp.Cells) {
		return fmt.Errorf("%w: %d station counts given for %d cells", ErrConfiguration, len(counts), len(sp.Cells))
	}
	for idx, count := range counts {
		sp.Cells[idx].Stations = count
	}
	return nil
}

// ClientGroupName returns the group whose nodes run echo clients
func (sp *ScenarioParams) ClientGroupName() string {
	if len(sp.Traffic.ClientGroup) > 0 {
		return sp.Traffic.ClientGroup
	}
	if sp.Family == FamilyLanCell {
		return SegmentGroup
	}
	if len(sp.Cells) == 0 {
		return ""
	}
	return StationGroup(sp.Cells[0].SSID)
}

// Validate checks everything that can be checked without building anything.  Every problem
// found is reported
func (sp *ScenarioParams) Validate() error {
	errs := make([]error, 0)

	if !slices.Contains(Families, sp.Family) {
		errs = append(errs, fmt.Errorf("%w: unknown family %q (want one of %s)", ErrTopology, sp.Family, familyNames()))
	}
	switch sp.Family {
	case FamilyDualCell:
		if len(sp.Cells) < 2 {
			errs = append(errs, fmt.Errorf("%w: %s needs at least two cells, has %d", ErrTopology, sp.Family, len(sp.Cells)))
		}
		if sp.LanNodes != 0 {
			errs = append(errs, fmt.Errorf("%w: %s has no shared segment for %d wired nodes", ErrTopology,
				sp.Family, sp.LanNodes))
		}
	case FamilyLanCell:
		if len(sp.Cells) < 1 {
			errs = append(errs, fmt.Errorf("%w: %s needs at least one cell", ErrTopology, sp.Family))
		}
	}

	bound := sp.EffectiveStationBound()
	if sp.Family == FamilyLanCell {
		if err := (GroupSpec{Name: LanGroup, Role: RoleStation, Size: sp.LanNodes, Bound: bound}).validate(); err != nil {
			errs = append(errs, err)
		}
	}
	ssids := make(map[string]bool)
	for idx, cell := range sp.Cells {
		if len(cell.SSID) == 0 {
			errs = append(errs, fmt.Errorf("%w: cell %d has no identifier", ErrConfiguration, idx))
		} else if ssids[cell.SSID] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateCell, cell.SSID))
		}
		ssids[cell.SSID] = true

		if err := (GroupSpec{Name: StationGroup(cell.SSID), Role: RoleStation, Size: cell.Stations, Bound: bound}).validate(); err != nil {
			errs = append(errs, err)
		}
		if len(cell.Positions) > 0 && len(cell.Positions) != cell.Stations {
			errs = append(errs, fmt.Errorf("%w: cell %s has %d stations but %d positions", ErrMobility,
				cell.SSID, cell.Stations, len(cell.Positions)))
		}
	}

	if _, err := ParseDataRate(sp.Backbone.DataRate); err != nil {
		errs = append(errs, fmt.Errorf("backbone: %w", err))
	}
	if _, err := ParseDelay(sp.Backbone.Delay); err != nil {
		errs = append(errs, fmt.Errorf("backbone: %w", err))
	}

	if _, err := netip.ParsePrefix(sp.AddressSpace); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrAddressSpace, err))
	}
	if sp.BlockBits < 1 || sp.BlockBits > 30 {
		errs = append(errs, fmt.Errorf("%w: block prefix length /%d not in /1../30", ErrAddressSpace, sp.BlockBits))
	}

	if !(sp.StopTime > 0) {
		errs = append(errs, fmt.Errorf("%w: stop time %g must be positive", ErrTiming, sp.StopTime))
	}
	if sp.Epsilon < 0 {
		errs = append(errs, fmt.Errorf("%w: epsilon %g is negative", ErrTiming, sp.Epsilon))
	}

	tp := sp.Traffic
	if tp.ServerCell < 0 || tp.ServerCell >= len(sp.Cells) {
		errs = append(errs, fmt.Errorf("%w: server cell %d does not exist", ErrConfiguration, tp.ServerCell))
	} else if tp.ServerStation < 0 || tp.ServerStation >= sp.Cells[tp.ServerCell].Stations {
		errs = append(errs, fmt.Errorf("%w: server station %d does not exist in cell %s", ErrConfiguration,
			tp.ServerStation, sp.Cells[tp.ServerCell].SSID))
	}
	errs = append(errs, validateTiming(tp.Server, tp.Client, tp.StartJitter, tp.Interval, sp.StopTime, sp.Epsilon)...)
	if tp.PacketSize < 0 || tp.MaxPackets < 0 || tp.StartJitter < 0 {
		errs = append(errs, fmt.Errorf("%w: packet size, packet count and jitter must be non-negative", ErrConfiguration))
	}

	switch sp.Capture.Backbone {
	case "", CaptureAll, CaptureFirst, CaptureNone:
	default:
		errs = append(errs, fmt.Errorf("%w: capture scope %q (want all, first or none)", ErrConfiguration,
			sp.Capture.Backbone))
	}

	return ReportErrs(errs)
}

// WriteToFile stores the parameters to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sp *ScenarioParams) WriteToFile(filename string) error {
	return writeByExt(filename, *sp)
}

// ReadScenarioParams deserializes a byte slice holding a representation of ScenarioParams.
// If the slice is empty the bytes are read from the named file.  Fields the input omits
// keep the values of the preset named by the input's family (dual-cell when none is named)
func ReadScenarioParams(filename string, useYAML bool, dict []byte) (*ScenarioParams, error) {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	head := struct {
		Family Family `json:"family" yaml:"family"`
	}{}
	ext := ".json"
	if useYAML {
		ext = ".yaml"
	}
	if err = unmarshalByExt(ext, dict, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	sp := DefaultDualCellParams()
	if head.Family == FamilyLanCell {
		sp = DefaultLanCellParams()
	}
	if err = unmarshalByExt(ext, dict, sp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// cells read from the input replace the preset's wholesale, so restore channel defaults
	for idx := range sp.Cells {
		ch := DefaultChannelConfig(sp.Cells[idx].SSID)
		if len(sp.Cells[idx].DataRate) == 0 {
			sp.Cells[idx].DataRate = ch.DataRate
		}
		if len(sp.Cells[idx].Manager) == 0 {
			sp.Cells[idx].Manager = ch.Manager
		}
	}
	return sp, nil
}
