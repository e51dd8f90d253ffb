package netscen

// link.go holds devices, links, and the LinkFabricBuilder that instantiates point-to-point
// and shared-medium links between nodes.  Every device handle is usable for addressing
// regardless of the medium underneath it

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Medium names the kind of fabric a device attaches to
type Medium string

const (
	MediumP2P    Medium = "p2p"
	MediumShared Medium = "csma"
	MediumWifi   Medium = "wifi"
)

// MacMode is the role a wireless device plays in its cell.  Wired devices have MacNone
type MacMode string

const (
	MacNone        MacMode = ""
	MacCoordinator MacMode = "ap"
	MacMember      MacMode = "sta"
)

// Device is a network device attached to a node
type Device struct {
	ID     int
	Name   string
	Node   *Node
	Medium Medium

	// exactly one of Link or Cell is set
	Link *Link
	Cell *WirelessCell

	Mode          MacMode
	ActiveProbing bool

	// Intrfc is set by the IP stack when the device is given an address
	Intrfc *Interface

	// Capture holds the capture label, empty if the device is not captured
	Capture string
}

// DeviceList is an ordered device set.  Order is significant: it is the order in which
// the devices were created, the order in which they receive addresses, and the order
// used by later lookups
type DeviceList []*Device

// Get returns the idx-th device
func (dl DeviceList) Get(idx int) *Device {
	return dl[idx]
}

// Index returns the position of the device in the list, or -1
func (dl DeviceList) Index(dev *Device) int {
	for idx, member := range dl {
		if member == dev {
			return idx
		}
	}
	return -1
}

// Concat returns a new list holding the receiver's devices followed by those of the argument lists
func (dl DeviceList) Concat(others ...DeviceList) DeviceList {
	rtn := make(DeviceList, 0, len(dl))
	rtn = append(rtn, dl...)
	for _, other := range others {
		rtn = append(rtn, other...)
	}
	return rtn
}

// Nodes returns the nodes holding the devices, in list order
func (dl DeviceList) Nodes() []*Node {
	nodes := make([]*Node, len(dl))
	for idx, dev := range dl {
		nodes[idx] = dev.Node
	}
	return nodes
}

// DeviceTable issues device identifiers for one scenario.  Link and cell builders share it
type DeviceTable struct {
	devices []*Device
}

// CreateDeviceTable is a constructor
func CreateDeviceTable() *DeviceTable {
	return &DeviceTable{devices: make([]*Device, 0)}
}

func (dt *DeviceTable) newDevice(node *Node, medium Medium, attach string) *Device {
	dev := new(Device)
	dev.ID = len(dt.devices)
	dev.Node = node
	dev.Medium = medium
	dev.Name = fmt.Sprintf("%s/%s[%d]", node.Name, attach, len(node.Devices))
	dt.devices = append(dt.devices, dev)
	node.addDevice(dev)
	return dev
}

// Devices returns every device in creation order
func (dt *DeviceTable) Devices() DeviceList {
	return DeviceList(dt.devices)
}

// LinkAttrs gives the rate and delay of a link as SI strings, e.g. "5Mbps" and "2ms"
type LinkAttrs struct {
	DataRate string `json:"datarate" yaml:"datarate"`
	Delay    string `json:"delay" yaml:"delay"`
}

// ParseDataRate converts a string such as "100Mbps" into bits per second
func ParseDataRate(rate string) (float64, error) {
	value, unit, err := humanize.ParseSI(strings.TrimSpace(rate))
	if err != nil {
		return 0, fmt.Errorf("%w: data rate %q: %v", ErrLinkAttr, rate, err)
	}
	if unit != "bps" && unit != "b/s" {
		return 0, fmt.Errorf("%w: data rate %q must be expressed in bps", ErrLinkAttr, rate)
	}
	if !(value > 0) {
		return 0, fmt.Errorf("%w: data rate %q must be positive", ErrLinkAttr, rate)
	}
	return value, nil
}

// ParseDelay converts a string such as "2ms" or "6560ns" into seconds
func ParseDelay(delay string) (float64, error) {
	value, unit, err := humanize.ParseSI(strings.TrimSpace(delay))
	if err != nil {
		return 0, fmt.Errorf("%w: delay %q: %v", ErrLinkAttr, delay, err)
	}
	if unit != "s" {
		return 0, fmt.Errorf("%w: delay %q must be expressed in seconds", ErrLinkAttr, delay)
	}
	if value < 0 {
		return 0, fmt.Errorf("%w: delay %q is negative", ErrLinkAttr, delay)
	}
	return value, nil
}

// Link connects two (point-to-point) or more (shared medium) devices.
// Links are not modified after the builder returns them
type Link struct {
	Name     string
	Medium   Medium
	DataRate float64 // bits per second
	Delay    float64 // seconds
	Devices  DeviceList
}

// TxTime is the time taken to put a frame of the given size on the link
func (lnk *Link) TxTime(bytes int) float64 {
	return float64(8*bytes) / lnk.DataRate
}

// String renders the link attributes for logging
func (lnk *Link) String() string {
	return fmt.Sprintf("%s(%s, %s, %d devices)", lnk.Name, humanize.SI(lnk.DataRate, "bps"),
		humanize.SIWithDigits(lnk.Delay, 3, "s"), len(lnk.Devices))
}

// LinkFabricBuilder instantiates links between role groups
type LinkFabricBuilder struct {
	devTbl *DeviceTable
	links  []*Link
	names  map[string]bool
}

// CreateLinkFabricBuilder is a constructor
func CreateLinkFabricBuilder(devTbl *DeviceTable) *LinkFabricBuilder {
	return &LinkFabricBuilder{devTbl: devTbl, links: make([]*Link, 0), names: make(map[string]bool)}
}

// PointToPoint creates a link between exactly two nodes.  Both ends carry the same attributes.
// The returned devices are in the order of the nodes
func (lfb *LinkFabricBuilder) PointToPoint(name string, attrs LinkAttrs, nodes ...*Node) (*Link, DeviceList, error) {
	if len(nodes) != 2 {
		return nil, nil, fmt.Errorf("%w: point-to-point link %s given %d endpoints, needs 2",
			ErrEndpoints, name, len(nodes))
	}
	if nodes[0] == nodes[1] {
		return nil, nil, fmt.Errorf("%w: point-to-point link %s joins node %s to itself",
			ErrEndpoints, name, nodes[0].Name)
	}
	return lfb.build(name, MediumP2P, attrs, nodes)
}

// Shared creates a shared-medium segment holding every node given
func (lfb *LinkFabricBuilder) Shared(name string, attrs LinkAttrs, nodes ...*Node) (*Link, DeviceList, error) {
	if len(nodes) == 0 {
		return nil, nil, fmt.Errorf("%w: shared link %s has no endpoints", ErrEndpoints, name)
	}
	seen := make(map[*Node]bool)
	for _, node := range nodes {
		if seen[node] {
			return nil, nil, fmt.Errorf("%w: node %s appears twice on shared link %s",
				ErrEndpoints, node.Name, name)
		}
		seen[node] = true
	}
	return lfb.build(name, MediumShared, attrs, nodes)
}

func (lfb *LinkFabricBuilder) build(name string, medium Medium, attrs LinkAttrs, nodes []*Node) (*Link, DeviceList, error) {
	if lfb.names[name] {
		return nil, nil, fmt.Errorf("%w: link name %s used twice", ErrTopology, name)
	}
	rate, rerr := ParseDataRate(attrs.DataRate)
	delay, derr := ParseDelay(attrs.Delay)
	if err := ReportErrs([]error{rerr, derr}); err != nil {
		return nil, nil, fmt.Errorf("link %s: %w", name, err)
	}

	lnk := &Link{Name: name, Medium: medium, DataRate: rate, Delay: delay}
	devs := make(DeviceList, 0, len(nodes))
	for _, node := range nodes {
		dev := lfb.devTbl.newDevice(node, medium, name)
		dev.Link = lnk
		devs = append(devs, dev)
	}
	lnk.Devices = devs

	lfb.names[name] = true
	lfb.links = append(lfb.links, lnk)
	return lnk, devs, nil
}

// Links returns the links built so far, in creation order
func (lfb *LinkFabricBuilder) Links() []*Link {
	return lfb.links
}
