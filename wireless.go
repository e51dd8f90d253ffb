package netscen

// wireless.go holds wireless channels and cells, and the WirelessCellBuilder.
// A cell is an association domain named by its SSID: one coordinator (access point) device
// and any number of member (station) devices.  Cells may share a channel object; the SSID
// alone keeps them apart

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// ChannelConfig describes a wireless channel
type ChannelConfig struct {
	Name string `json:"name" yaml:"name"`

	// DataRate is the nominal PHY rate used to compute frame transmission time
	DataRate string `json:"datarate" yaml:"datarate"`

	// Manager names the remote station manager (rate control) the stations run
	Manager string `json:"manager" yaml:"manager"`
}

// DefaultChannelConfig mirrors the defaults of a YANS channel with AARF rate control
func DefaultChannelConfig(name string) ChannelConfig {
	return ChannelConfig{Name: name, DataRate: "54Mbps", Manager: "aarf"}
}

// Channel is a shared wireless medium
type Channel struct {
	ID       int
	Name     string
	DataRate float64
	Manager  string
}

// TxTime is the time taken to put a frame of the given size on the channel
func (ch *Channel) TxTime(bytes int) float64 {
	return float64(8*bytes) / ch.DataRate
}

// StationConfig holds the MAC settings applied to member devices
type StationConfig struct {
	ActiveProbing bool `json:"activeprobing" yaml:"activeprobing"`
}

// WirelessCell is a named association domain
type WirelessCell struct {
	SSID        string
	Channel     *Channel
	Coordinator *Device
	Members     DeviceList
}

// Devices returns the member devices followed by the coordinator
func (wc *WirelessCell) Devices() DeviceList {
	return wc.Members.Concat(DeviceList{wc.Coordinator})
}

// CanAssociate is true only when the member and the coordinator hold the same SSID,
// share a channel, and play member and coordinator roles respectively
func CanAssociate(member, coordinator *Device) bool {
	if member == nil || coordinator == nil || member.Cell == nil || coordinator.Cell == nil {
		return false
	}
	if member.Mode != MacMember || coordinator.Mode != MacCoordinator {
		return false
	}
	if member.Cell.SSID != coordinator.Cell.SSID {
		return false
	}
	return member.Cell.Channel == coordinator.Cell.Channel
}

// WirelessCellBuilder creates channels and cells
type WirelessCellBuilder struct {
	devTbl   *DeviceTable
	channels []*Channel
	cells    []*WirelessCell
	bySSID   map[string]*WirelessCell
	member   map[*Node]string
}

// CreateWirelessCellBuilder is a constructor
func CreateWirelessCellBuilder(devTbl *DeviceTable) *WirelessCellBuilder {
	wcb := new(WirelessCellBuilder)
	wcb.devTbl = devTbl
	wcb.channels = make([]*Channel, 0)
	wcb.cells = make([]*WirelessCell, 0)
	wcb.bySSID = make(map[string]*WirelessCell)
	wcb.member = make(map[*Node]string)
	return wcb
}

// CreateChannel makes a new channel object from its configuration
func (wcb *WirelessCellBuilder) CreateChannel(cfg ChannelConfig) (*Channel, error) {
	rate, err := ParseDataRate(cfg.DataRate)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", cfg.Name, err)
	}
	ch := &Channel{ID: len(wcb.channels), Name: cfg.Name, DataRate: rate, Manager: cfg.Manager}
	if len(ch.Name) == 0 {
		ch.Name = fmt.Sprintf("channel.%d", ch.ID)
	}
	wcb.channels = append(wcb.channels, ch)
	return ch, nil
}

// Build creates a cell: one coordinator device on the infrastructure node and one member
// device per station, in station order
func (wcb *WirelessCellBuilder) Build(ssid string, ch *Channel, ap *Node, stations *NodeGroup,
	cfg StationConfig) (*WirelessCell, error) {
	if len(ssid) == 0 {
		return nil, fmt.Errorf("%w: empty cell identifier", ErrConfiguration)
	}
	if _, present := wcb.bySSID[ssid]; present {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCell, ssid)
	}
	if ch == nil || ap == nil {
		return nil, fmt.Errorf("%w: cell %s needs a channel and an infrastructure node", ErrTopology, ssid)
	}
	if prior, present := wcb.member[ap]; present {
		return nil, fmt.Errorf("%w: node %s already coordinates or joins cell %s", ErrCellMembership, ap.Name, prior)
	}
	for _, sta := range stations.Nodes {
		if sta == ap {
			return nil, fmt.Errorf("%w: node %s cannot be both coordinator and member of cell %s",
				ErrCellMembership, sta.Name, ssid)
		}
		if prior, present := wcb.member[sta]; present {
			return nil, fmt.Errorf("%w: node %s is already in cell %s", ErrCellMembership, sta.Name, prior)
		}
	}

	cell := &WirelessCell{SSID: ssid, Channel: ch, Members: make(DeviceList, 0, stations.Len())}

	for _, sta := range stations.Nodes {
		dev := wcb.devTbl.newDevice(sta, MediumWifi, ssid)
		dev.Cell = cell
		dev.Mode = MacMember
		dev.ActiveProbing = cfg.ActiveProbing
		cell.Members = append(cell.Members, dev)
		wcb.member[sta] = ssid
	}

	apDev := wcb.devTbl.newDevice(ap, MediumWifi, ssid)
	apDev.Cell = cell
	apDev.Mode = MacCoordinator
	cell.Coordinator = apDev
	wcb.member[ap] = ssid

	wcb.bySSID[ssid] = cell
	wcb.cells = append(wcb.cells, cell)
	return cell, nil
}

// Associate returns the coordinator a member device would associate with, searching every
// cell built so far.  Only the coordinator of the member's own SSID qualifies
func (wcb *WirelessCellBuilder) Associate(member *Device) (*Device, error) {
	for _, cell := range wcb.cells {
		if CanAssociate(member, cell.Coordinator) {
			return cell.Coordinator, nil
		}
	}
	return nil, fmt.Errorf("%w: device %s finds no coordinator", ErrTopology, member.Name)
}

// Cell looks up a cell by SSID
func (wcb *WirelessCellBuilder) Cell(ssid string) (*WirelessCell, bool) {
	cell, present := wcb.bySSID[ssid]
	return cell, present
}

// Cells returns the cells in creation order
func (wcb *WirelessCellBuilder) Cells() []*WirelessCell {
	return wcb.cells
}

// String renders the channel for logging
func (ch *Channel) String() string {
	return fmt.Sprintf("%s(%s, %s)", ch.Name, humanize.SI(ch.DataRate, "bps"), ch.Manager)
}
