package netscen

// routes.go holds the IP stack: per-node stacks, address binding, and global route computation.
//
// Routes are computed the way a global routing helper would: the addressed topology is turned
// into a graph whose vertices are nodes and whose edges join nodes that share a segment (a link,
// or a station and the coordinator of its cell).  Each edge weighs 1, so a shortest path is a
// least-hop path.  A shortest-path tree is computed for every node once, when the routing
// tables are populated, and routes are read from those trees afterwards

import (
	"fmt"
	"math"
	"net/netip"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Interface is an addressed device
type Interface struct {
	// Index is the position of the interface among those of its node, in binding order
	Index  int
	Device *Device
	Addr   netip.Addr
	Prefix netip.Prefix
}

// hop gives the pair of devices a packet uses to pass from one node to a neighbor
type hop struct {
	out, in *Device
}

// IPStack holds the addressing and routing state of one scenario
type IPStack struct {
	nodes        map[int]*Node
	intrfcs      map[int][]*Interface
	intrfcByAddr map[netip.Addr]*Interface

	connGraph *simple.WeightedUndirectedGraph
	adjacent  map[[2]int]hop
	spTrees   map[int]path.Shortest
	populated bool
}

// CreateIPStack is a constructor
func CreateIPStack() *IPStack {
	ips := new(IPStack)
	ips.nodes = make(map[int]*Node)
	ips.intrfcs = make(map[int][]*Interface)
	ips.intrfcByAddr = make(map[netip.Addr]*Interface)
	ips.adjacent = make(map[[2]int]hop)
	ips.spTrees = make(map[int]path.Shortest)
	return ips
}

// InstallStack readies a node to receive addresses.  Installing twice is harmless
func (ips *IPStack) InstallStack(nodes ...*Node) {
	for _, node := range nodes {
		node.Stack = true
		ips.nodes[node.ID] = node
	}
}

// AssignAddress binds an address to a device and returns the interface handle
func (ips *IPStack) AssignAddress(dev *Device, prefix netip.Prefix, addr netip.Addr) (*Interface, error) {
	if ips.populated {
		return nil, fmt.Errorf("%w: address assigned after routing tables were populated", ErrStageOrder)
	}
	if !dev.Node.Stack {
		return nil, fmt.Errorf("%w: %s", ErrNoStack, dev.Node.Name)
	}
	if !prefix.Contains(addr) {
		return nil, fmt.Errorf("%w: %s is outside %s", ErrAddressSpace, addr, prefix)
	}
	if prior, present := ips.intrfcByAddr[addr]; present {
		return nil, fmt.Errorf("%w: %s already held by %s", ErrAddressSpace, addr, prior.Device.Name)
	}

	intrfc := &Interface{Index: len(ips.intrfcs[dev.Node.ID]), Device: dev, Addr: addr, Prefix: prefix}
	ips.intrfcs[dev.Node.ID] = append(ips.intrfcs[dev.Node.ID], intrfc)
	ips.intrfcByAddr[addr] = intrfc
	dev.Intrfc = intrfc
	return intrfc, nil
}

// Interfaces returns the interfaces of a node in binding order
func (ips *IPStack) Interfaces(node *Node) []*Interface {
	return ips.intrfcs[node.ID]
}

// Resolve finds the interface holding an address
func (ips *IPStack) Resolve(addr netip.Addr) (*Interface, bool) {
	intrfc, present := ips.intrfcByAddr[addr]
	return intrfc, present
}

// connect records that a packet can pass directly from out's node to in's node
func (ips *IPStack) connect(out, in *Device) {
	if out.Node == in.Node || out.Intrfc == nil || in.Intrfc == nil {
		return
	}
	key := [2]int{out.Node.ID, in.Node.ID}
	if _, present := ips.adjacent[key]; present {
		return
	}
	ips.adjacent[key] = hop{out: out, in: in}
	ips.connGraph.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(out.Node.ID), T: simple.Node(in.Node.ID), W: 1.0})
}

// PopulateRoutingTables computes routes between every pair of addressed nodes.  It is called
// once, after all addressing is complete
func (ips *IPStack) PopulateRoutingTables(links []*Link, cells []*WirelessCell) error {
	if ips.populated {
		return fmt.Errorf("%w: routing tables populated twice", ErrStageOrder)
	}

	ips.connGraph = simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for id := range ips.nodes {
		if ips.connGraph.Node(int64(id)) == nil {
			ips.connGraph.AddNode(simple.Node(id))
		}
	}

	for _, lnk := range links {
		for _, a := range lnk.Devices {
			for _, b := range lnk.Devices {
				ips.connect(a, b)
			}
		}
	}

	// stations reach only their own coordinator
	for _, cell := range cells {
		for _, member := range cell.Members {
			if CanAssociate(member, cell.Coordinator) {
				ips.connect(member, cell.Coordinator)
				ips.connect(cell.Coordinator, member)
			}
		}
	}

	for id := range ips.nodes {
		ips.spTrees[id] = path.DijkstraFrom(simple.Node(id), ips.connGraph)
	}
	ips.populated = true
	return nil
}

// Populated reports whether routing tables exist
func (ips *IPStack) Populated() bool {
	return ips.populated
}

// Route returns the sequence of nodes a packet visits from src to dst, both included
func (ips *IPStack) Route(src, dst *Node) ([]*Node, error) {
	if !ips.populated {
		return nil, ErrRoutesNotReady
	}
	if _, present := ips.nodes[src.ID]; !present {
		return nil, fmt.Errorf("%w: %s", ErrNoStack, src.Name)
	}
	if _, present := ips.nodes[dst.ID]; !present {
		return nil, fmt.Errorf("%w: %s", ErrNoStack, dst.Name)
	}
	if src == dst {
		return []*Node{src}, nil
	}

	nodeSeq, _ := ips.spTrees[src.ID].To(int64(dst.ID))
	if len(nodeSeq) == 0 {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoRoute, src.Name, dst.Name)
	}
	return ips.convertNodeSeq(nodeSeq), nil
}

// RouteTo is Route with the destination given by address
func (ips *IPStack) RouteTo(src *Node, dst netip.Addr) ([]*Node, error) {
	intrfc, present := ips.Resolve(dst)
	if !present {
		return nil, fmt.Errorf("%w: no interface holds %s", ErrNoRoute, dst)
	}
	return ips.Route(src, intrfc.Device.Node)
}

// NextHop returns the devices a packet leaves and enters by going from one node to the next on a route
func (ips *IPStack) NextHop(from, to *Node) (out, in *Device, err error) {
	step, present := ips.adjacent[[2]int{from.ID, to.ID}]
	if !present {
		return nil, nil, fmt.Errorf("%w: %s and %s are not adjacent", ErrNoRoute, from.Name, to.Name)
	}
	return step.out, step.in, nil
}

func (ips *IPStack) convertNodeSeq(nodeSeq []graph.Node) []*Node {
	rtn := make([]*Node, 0, len(nodeSeq))
	for _, gn := range nodeSeq {
		rtn = append(rtn, ips.nodes[int(gn.ID())])
	}
	return rtn
}
