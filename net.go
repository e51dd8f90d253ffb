package netscen

// net.go carries packets through the assembled topology.
//
// Routing is static: the complete node sequence from source to destination is computed when a
// packet enters the network, from the routing tables the IP stack populated before the clock
// started.  A packet then passes one hop at a time.  Each hop costs the transmission time of
// the packet on the medium plus a propagation delay: the configured delay for a wired link, and
// the distance between the two nodes at the moment of transmission (over the speed of light)
// for a wireless cell.  There is no queueing and no loss on the medium; a packet is dropped only
// when it has no route or nothing listens at its destination

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/iti/evt/evtm"

	"github.com/iti/netscen/internal/logging"
	"github.com/iti/netscen/internal/observability"
)

// speedOfLight in meters/second, for wireless propagation delay
const speedOfLight = 299792458.0

// PacketKind distinguishes probes from the replies they provoke
type PacketKind string

const (
	ProbePacket PacketKind = "probe"
	ReplyPacket PacketKind = "reply"
)

// Packet is a datagram in flight
type Packet struct {
	ID   int
	Kind PacketKind
	Src  netip.AddrPort
	Dst  netip.AddrPort
	Size int
	Seq  int

	// Sent is the time the packet entered the network
	Sent float64

	route  []*Node
	hopIdx int
}

// Hops returns the number of hops on the packet's route
func (pkt *Packet) Hops() int {
	return len(pkt.route) - 1
}

// Receiver is anything bound to an address and port that packets can be delivered to
type Receiver interface {
	Receive(np *NetworkPortal, pkt *Packet)
}

// NetworkPortal is the passage between applications and the simulated network
type NetworkPortal struct {
	sc      *SimulationContext
	stack   *IPStack
	capture *CaptureManager
	metrics *observability.ScenarioCollector
	logger  logging.Logger

	sockets  map[netip.AddrPort]Receiver
	nxtPktID int
	nxtPort  map[netip.Addr]uint16

	delivered int
	dropped   map[string]int
}

// firstEphemeralPort is where client port numbering starts on each address
const firstEphemeralPort uint16 = 49153

// CreateNetworkPortal is a constructor
func CreateNetworkPortal(sc *SimulationContext, stack *IPStack, capture *CaptureManager,
	metrics *observability.ScenarioCollector, logger logging.Logger) *NetworkPortal {
	if logger == nil {
		logger = logging.Noop()
	}
	np := new(NetworkPortal)
	np.sc = sc
	np.stack = stack
	np.capture = capture
	np.metrics = metrics
	np.logger = logger
	np.sockets = make(map[netip.AddrPort]Receiver)
	np.nxtPort = make(map[netip.Addr]uint16)
	np.dropped = make(map[string]int)
	return np
}

// Bind attaches a receiver to an address and port.  A port of zero selects the next free
// ephemeral port on the address
func (np *NetworkPortal) Bind(addr netip.Addr, port uint16, rcvr Receiver) (netip.AddrPort, error) {
	if _, present := np.stack.Resolve(addr); !present {
		return netip.AddrPort{}, fmt.Errorf("%w: no interface holds %s", ErrNotAddressed, addr)
	}
	if port == 0 {
		port = np.nxtPort[addr]
		if port == 0 {
			port = firstEphemeralPort
		}
		for {
			if _, taken := np.sockets[netip.AddrPortFrom(addr, port)]; !taken {
				break
			}
			port += 1
		}
		np.nxtPort[addr] = port + 1
	}
	ap := netip.AddrPortFrom(addr, port)
	if _, taken := np.sockets[ap]; taken {
		return netip.AddrPort{}, fmt.Errorf("%w: %s already bound", ErrConfiguration, ap)
	}
	np.sockets[ap] = rcvr
	return ap, nil
}

// Unbind releases a bound address and port.  A released ephemeral port is the next one handed
// out on its address.  Releasing an unbound pair does nothing
func (np *NetworkPortal) Unbind(ap netip.AddrPort) {
	if _, present := np.sockets[ap]; !present {
		return
	}
	delete(np.sockets, ap)
	if ap.Port() >= firstEphemeralPort && ap.Port() < np.nxtPort[ap.Addr()] {
		np.nxtPort[ap.Addr()] = ap.Port()
	}
}

// Bound reports whether a receiver is attached to the address and port
func (np *NetworkPortal) Bound(ap netip.AddrPort) bool {
	_, present := np.sockets[ap]
	return present
}

// Send puts a packet into the network at the current time.  The route is fixed here
func (np *NetworkPortal) Send(kind PacketKind, src, dst netip.AddrPort, size, seq int) (*Packet, error) {
	srcIntrfc, present := np.stack.Resolve(src.Addr())
	if !present {
		return nil, fmt.Errorf("%w: no interface holds %s", ErrNotAddressed, src.Addr())
	}

	np.nxtPktID += 1
	pkt := &Packet{ID: np.nxtPktID, Kind: kind, Src: src, Dst: dst, Size: size, Seq: seq, Sent: np.sc.Now()}

	route, err := np.stack.RouteTo(srcIntrfc.Device.Node, dst.Addr())
	if err != nil {
		np.drop(pkt, "no-route", err)
		return pkt, nil
	}
	pkt.route = route

	if len(route) == 1 {
		np.sc.After(0.0, np, pkt, deliverPacket)
		return pkt, nil
	}
	np.forward(pkt)
	return pkt, nil
}

// forward transmits the packet from the node it is at to the next node of its route
func (np *NetworkPortal) forward(pkt *Packet) {
	from, to := pkt.route[pkt.hopIdx], pkt.route[pkt.hopIdx+1]
	out, in, err := np.stack.NextHop(from, to)
	if err != nil {
		np.drop(pkt, "no-route", err)
		return
	}
	now := np.sc.Now()
	np.capture.Record(now, out, CaptureTx, pkt)
	np.metrics.IncHop(string(out.Medium))

	delay := HopDelay(out, in, pkt.Size, now)
	np.sc.After(delay, np, hopArrival{pkt: pkt, in: in}, arriveAtHop)
}

// hopArrival is the data carried by the event marking the end of a hop
type hopArrival struct {
	pkt *Packet
	in  *Device
}

// arriveAtHop is the event handler for a packet reaching the far side of a hop
func arriveAtHop(evtMgr *evtm.EventManager, context any, data any) any {
	np := context.(*NetworkPortal)
	ha := data.(hopArrival)

	np.capture.Record(evtMgr.CurrentSeconds(), ha.in, CaptureRx, ha.pkt)
	ha.pkt.hopIdx += 1
	if ha.pkt.hopIdx == len(ha.pkt.route)-1 {
		np.depart(ha.pkt)
		return nil
	}
	np.forward(ha.pkt)
	return nil
}

// deliverPacket is the event handler for a packet whose source and destination share a node
func deliverPacket(evtMgr *evtm.EventManager, context any, data any) any {
	np := context.(*NetworkPortal)
	np.depart(data.(*Packet))
	return nil
}

// depart hands a packet that reached its destination node to the receiver bound to its destination
func (np *NetworkPortal) depart(pkt *Packet) {
	rcvr, present := np.sockets[pkt.Dst]
	if !present {
		np.drop(pkt, "no-listener", nil)
		return
	}
	np.delivered += 1
	np.metrics.IncDelivered()
	rcvr.Receive(np, pkt)
}

func (np *NetworkPortal) drop(pkt *Packet, reason string, err error) {
	np.dropped[reason] += 1
	np.metrics.IncDropped(reason)
	fields := []logging.Field{
		logging.Int("packet", pkt.ID),
		logging.String("src", pkt.Src.String()),
		logging.String("dst", pkt.Dst.String()),
		logging.String("reason", reason),
		logging.String("time", fmtTime(np.sc.Now())),
	}
	if err != nil {
		fields = append(fields, logging.Err(err))
	}
	np.logger.Warn(context.Background(), "packet dropped", fields...)
}

// Delivered returns the number of packets handed to a receiver
func (np *NetworkPortal) Delivered() int {
	return np.delivered
}

// Dropped returns the number of packets dropped, by reason
func (np *NetworkPortal) Dropped() map[string]int {
	rtn := make(map[string]int, len(np.dropped))
	for reason, count := range np.dropped {
		rtn[reason] = count
	}
	return rtn
}

// HopDelay is the time a packet of the given size takes to pass from device out to device in,
// with the transmission starting at time now
func HopDelay(out, in *Device, size int, now float64) float64 {
	if out.Medium == MediumWifi {
		delay := out.Cell.Channel.TxTime(size)
		if out.Node.Mobility != nil && in.Node.Mobility != nil {
			dist := out.Node.Mobility.PositionAt(now).Distance(in.Node.Mobility.PositionAt(now))
			delay += dist / speedOfLight
		}
		return delay
	}
	return out.Link.TxTime(size) + out.Link.Delay
}
