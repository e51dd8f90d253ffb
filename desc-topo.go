package netscen

// desc-topo.go holds the serializable description of a built scenario.  A ScenarioDesc lists
// every node, device, link, cell and address block by name, in creation order, so two builds
// from the same parameters produce equal descriptions.  The run identifier is not part of it

import (
	"encoding/json"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// DeviceDesc describes a device and the address it holds
type DeviceDesc struct {
	Name    string `json:"name" yaml:"name"`
	Medium  string `json:"medium" yaml:"medium"`
	Attach  string `json:"attach" yaml:"attach"`
	Mode    string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Prefix  string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Capture string `json:"capture,omitempty" yaml:"capture,omitempty"`
}

// MobilityDesc describes the motion of a node
type MobilityDesc struct {
	Kind     string `json:"kind" yaml:"kind"`
	Origin   Vector `json:"origin" yaml:"origin"`
	Velocity Vector `json:"velocity" yaml:"velocity"`
}

// NodeDesc describes a node
type NodeDesc struct {
	ID       int           `json:"id" yaml:"id"`
	Name     string        `json:"name" yaml:"name"`
	Group    string        `json:"group" yaml:"group"`
	Groups   []string      `json:"groups" yaml:"groups"`
	Roles    []string      `json:"roles" yaml:"roles"`
	Devices  []DeviceDesc  `json:"devices" yaml:"devices"`
	Mobility *MobilityDesc `json:"mobility,omitempty" yaml:"mobility,omitempty"`
}

// LinkDesc describes a wired link
type LinkDesc struct {
	Name     string   `json:"name" yaml:"name"`
	Medium   string   `json:"medium" yaml:"medium"`
	DataRate string   `json:"datarate" yaml:"datarate"`
	Delay    string   `json:"delay" yaml:"delay"`
	Devices  []string `json:"devices" yaml:"devices"`
}

// CellDesc describes a wireless cell
type CellDesc struct {
	SSID        string   `json:"ssid" yaml:"ssid"`
	Channel     string   `json:"channel" yaml:"channel"`
	DataRate    string   `json:"datarate" yaml:"datarate"`
	Manager     string   `json:"manager" yaml:"manager"`
	Coordinator string   `json:"coordinator" yaml:"coordinator"`
	Members     []string `json:"members" yaml:"members"`
}

// BlockDesc describes an address block and its bindings, in device order
type BlockDesc struct {
	Name      string   `json:"name" yaml:"name"`
	Prefix    string   `json:"prefix" yaml:"prefix"`
	Devices   []string `json:"devices" yaml:"devices"`
	Addresses []string `json:"addresses" yaml:"addresses"`
}

// GroupDesc describes a node group
type GroupDesc struct {
	Name  string   `json:"name" yaml:"name"`
	Role  string   `json:"role" yaml:"role"`
	Owner bool     `json:"owner" yaml:"owner"`
	Nodes []string `json:"nodes" yaml:"nodes"`
}

// ScenarioDesc is the description of a built scenario
type ScenarioDesc struct {
	Name   string      `json:"name" yaml:"name"`
	Family string      `json:"family" yaml:"family"`
	Groups []GroupDesc `json:"groups" yaml:"groups"`
	Nodes  []NodeDesc  `json:"nodes" yaml:"nodes"`
	Links  []LinkDesc  `json:"links" yaml:"links"`
	Cells  []CellDesc  `json:"cells" yaml:"cells"`
	Blocks []BlockDesc `json:"blocks" yaml:"blocks"`
	Server string      `json:"server" yaml:"server"`
}

// Transform returns the description of the node
func (n *Node) Transform() NodeDesc {
	nd := NodeDesc{ID: n.ID, Name: n.Name, Group: n.Group, Groups: append([]string{}, n.Groups...),
		Roles: make([]string, len(n.Roles)), Devices: make([]DeviceDesc, 0, len(n.Devices))}
	for idx, role := range n.Roles {
		nd.Roles[idx] = string(role)
	}
	for _, dev := range n.Devices {
		nd.Devices = append(nd.Devices, dev.Transform())
	}
	if n.Mobility != nil {
		nd.Mobility = &MobilityDesc{Kind: string(n.Mobility.Kind), Origin: n.Mobility.Origin,
			Velocity: n.Mobility.Velocity}
	}
	return nd
}

// Transform returns the description of the device
func (dev *Device) Transform() DeviceDesc {
	dd := DeviceDesc{Name: dev.Name, Medium: string(dev.Medium), Mode: string(dev.Mode), Capture: dev.Capture}
	if dev.Link != nil {
		dd.Attach = dev.Link.Name
	} else if dev.Cell != nil {
		dd.Attach = dev.Cell.SSID
	}
	if dev.Intrfc != nil {
		dd.Addr = dev.Intrfc.Addr.String()
		dd.Prefix = dev.Intrfc.Prefix.String()
	}
	return dd
}

// Transform returns the description of the link
func (lnk *Link) Transform() LinkDesc {
	return LinkDesc{Name: lnk.Name, Medium: string(lnk.Medium),
		DataRate: humanize.SI(lnk.DataRate, "bps"), Delay: humanize.SIWithDigits(lnk.Delay, 3, "s"),
		Devices: deviceNames(lnk.Devices)}
}

// Transform returns the description of the cell
func (wc *WirelessCell) Transform() CellDesc {
	return CellDesc{SSID: wc.SSID, Channel: wc.Channel.Name, DataRate: humanize.SI(wc.Channel.DataRate, "bps"),
		Manager: wc.Channel.Manager, Coordinator: wc.Coordinator.Name, Members: deviceNames(wc.Members)}
}

// Transform returns the description of the block
func (ab *AddressBlock) Transform() BlockDesc {
	bd := BlockDesc{Name: ab.Name, Prefix: ab.Prefix.String(), Devices: deviceNames(ab.Devices),
		Addresses: make([]string, len(ab.addrs))}
	for idx, addr := range ab.addrs {
		bd.Addresses[idx] = addr.String()
	}
	return bd
}

// Transform returns the description of the group
func (ng *NodeGroup) Transform() GroupDesc {
	gd := GroupDesc{Name: ng.Name, Role: string(ng.Role), Owner: ng.Owner, Nodes: make([]string, len(ng.Nodes))}
	for idx, node := range ng.Nodes {
		gd.Nodes[idx] = node.Name
	}
	return gd
}

func deviceNames(dl DeviceList) []string {
	names := make([]string, len(dl))
	for idx, dev := range dl {
		names[idx] = dev.Name
	}
	return names
}

// Describe returns the description of the built scenario
func (s *Scenario) Describe() *ScenarioDesc {
	sd := &ScenarioDesc{Name: s.Params.Name, Family: string(s.Params.Family)}
	for _, ng := range s.Allocator.Groups() {
		sd.Groups = append(sd.Groups, ng.Transform())
	}
	for _, node := range s.Allocator.Nodes() {
		sd.Nodes = append(sd.Nodes, node.Transform())
	}
	for _, lnk := range s.Fabric.Links() {
		sd.Links = append(sd.Links, lnk.Transform())
	}
	for _, cell := range s.Cells.Cells() {
		sd.Cells = append(sd.Cells, cell.Transform())
	}
	for _, ab := range s.Blocks {
		sd.Blocks = append(sd.Blocks, ab.Transform())
	}
	if s.Server != nil {
		sd.Server = s.Server.Local.String()
	}
	return sd
}

// WriteToFile stores the description to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sd *ScenarioDesc) WriteToFile(filename string) error {
	return writeByExt(filename, *sd)
}

// ReadScenarioDesc deserializes a byte slice holding a representation of a ScenarioDesc.
// If the slice is empty the bytes are read from the named file
func ReadScenarioDesc(filename string, useYAML bool, dict []byte) (*ScenarioDesc, error) {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ScenarioDesc{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}
