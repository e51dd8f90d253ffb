package netscen

// roles.go holds the Node and NodeGroup structures and the RoleAllocator that creates them.
// A node is created exactly once, by the group that owns it.  Other groups may refer to the
// same node (e.g. a backbone endpoint that also coordinates a wireless cell); such alias groups
// add a role tag to the node but never re-create it.

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Role tags the part a node plays in the scenario
type Role string

const (
	RoleBackbone       Role = "backbone"
	RoleInfrastructure Role = "infrastructure"
	RoleStation        Role = "station"
)

// Node is an addressable simulation participant
type Node struct {
	// ID is unique within the allocator that created the node, assigned in creation order
	ID int

	// Name is derived from the owning group and the position of the node within it
	Name string

	// Roles is the set of role tags, in the order they were acquired
	Roles []Role

	// Group is the name of the owning group
	Group string

	// Groups lists every group (owning or alias) the node appears in
	Groups []string

	// Devices in creation order. Index 0 is the first device created for the node
	Devices []*Device

	// Mobility is nil until the MobilityAssigner has visited the node
	Mobility *MobilityModel

	// Stack is true once an IP stack has been installed on the node
	Stack bool
}

// HasRole indicates whether the role tag is carried by the node
func (n *Node) HasRole(role Role) bool {
	return slices.Contains(n.Roles, role)
}

// AddRole includes a role tag, if not already present
func (n *Node) AddRole(role Role) {
	if !n.HasRole(role) {
		n.Roles = append(n.Roles, role)
	}
}

// addGroup records membership of a group, if not already present
func (n *Node) addGroup(groupName string) {
	if !slices.Contains(n.Groups, groupName) {
		n.Groups = append(n.Groups, groupName)
	}
}

// addDevice attaches a freshly created device to the node
func (n *Node) addDevice(dev *Device) {
	n.Devices = append(n.Devices, dev)
}

// NodeGroup is an ordered, named collection of nodes sharing a role and a configuration step
type NodeGroup struct {
	Name  string
	Role  Role
	Owner bool // true if the group created its nodes, false for an alias group
	Nodes []*Node
}

// Len returns the number of nodes in the group
func (ng *NodeGroup) Len() int {
	if ng == nil {
		return 0
	}
	return len(ng.Nodes)
}

// Get returns the idx-th node of the group
func (ng *NodeGroup) Get(idx int) *Node {
	return ng.Nodes[idx]
}

// Contains indicates whether the node is a member of the group
func (ng *NodeGroup) Contains(node *Node) bool {
	return slices.Contains(ng.Nodes, node)
}

// GroupSpec requests a group of freshly created nodes.  Bound is an inclusive upper limit on
// Size; a Bound of zero or less means the size is not bounded
type GroupSpec struct {
	Name  string
	Role  Role
	Size  int
	Bound int
}

func (gs GroupSpec) validate() error {
	if len(gs.Name) == 0 {
		return fmt.Errorf("%w: group with empty name", ErrGroupSize)
	}
	if gs.Size < 0 {
		return fmt.Errorf("%w: group %s size %d is negative", ErrGroupSize, gs.Name, gs.Size)
	}
	if gs.Bound > 0 && gs.Size > gs.Bound {
		return fmt.Errorf("%w: group %s size %d exceeds the mobility bounding box limit of %d",
			ErrGroupSize, gs.Name, gs.Size, gs.Bound)
	}
	return nil
}

// RoleAllocator creates and labels node groups.  It owns the node table for one scenario
type RoleAllocator struct {
	nodes  []*Node
	groups map[string]*NodeGroup
	order  []string
}

// CreateRoleAllocator is a constructor
func CreateRoleAllocator() *RoleAllocator {
	ra := new(RoleAllocator)
	ra.nodes = make([]*Node, 0)
	ra.groups = make(map[string]*NodeGroup)
	ra.order = make([]string, 0)
	return ra
}

// Allocate creates one owning group per spec, in the order given.  Every spec is checked
// before the first node is created, so a failure leaves the allocator untouched
func (ra *RoleAllocator) Allocate(specs []GroupSpec) ([]*NodeGroup, error) {
	errs := make([]error, 0)
	seen := make(map[string]bool)
	for _, spec := range specs {
		if err := spec.validate(); err != nil {
			errs = append(errs, err)
		}
		if _, present := ra.groups[spec.Name]; present || seen[spec.Name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateGroup, spec.Name))
		}
		seen[spec.Name] = true
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}

	groups := make([]*NodeGroup, 0, len(specs))
	for _, spec := range specs {
		groups = append(groups, ra.create(spec))
	}
	return groups, nil
}

// Create is Allocate for a single group
func (ra *RoleAllocator) Create(name string, role Role, size, bound int) (*NodeGroup, error) {
	groups, err := ra.Allocate([]GroupSpec{{Name: name, Role: role, Size: size, Bound: bound}})
	if err != nil {
		return nil, err
	}
	return groups[0], nil
}

func (ra *RoleAllocator) create(spec GroupSpec) *NodeGroup {
	ng := &NodeGroup{Name: spec.Name, Role: spec.Role, Owner: true, Nodes: make([]*Node, 0, spec.Size)}
	for idx := 0; idx < spec.Size; idx++ {
		node := new(Node)
		node.ID = len(ra.nodes)
		node.Name = fmt.Sprintf("%s.%d", spec.Name, idx)
		node.Group = spec.Name
		node.Roles = []Role{spec.Role}
		node.Groups = []string{spec.Name}
		node.Devices = make([]*Device, 0)
		ra.nodes = append(ra.nodes, node)
		ng.Nodes = append(ng.Nodes, node)
	}
	ra.groups[spec.Name] = ng
	ra.order = append(ra.order, spec.Name)
	return ng
}

// Alias builds a non-owning group over nodes that already exist, tagging each with the role.
// The nodes keep their owning group.  An empty role groups the nodes without tagging them
func (ra *RoleAllocator) Alias(name string, role Role, nodes ...*Node) (*NodeGroup, error) {
	if _, present := ra.groups[name]; present {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGroup, name)
	}
	for _, node := range nodes {
		if node == nil || node.ID >= len(ra.nodes) || ra.nodes[node.ID] != node {
			return nil, fmt.Errorf("%w: alias group %s refers to a node this allocator did not create",
				ErrUnknownGroup, name)
		}
	}

	ng := &NodeGroup{Name: name, Role: role, Owner: false, Nodes: make([]*Node, 0, len(nodes))}
	for _, node := range nodes {
		if len(role) > 0 {
			node.AddRole(role)
		}
		node.addGroup(name)
		ng.Nodes = append(ng.Nodes, node)
	}
	ra.groups[name] = ng
	ra.order = append(ra.order, name)
	return ng, nil
}

// Group looks up a group by name
func (ra *RoleAllocator) Group(name string) (*NodeGroup, error) {
	ng, present := ra.groups[name]
	if !present {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, name)
	}
	return ng, nil
}

// Groups returns every group in creation order
func (ra *RoleAllocator) Groups() []*NodeGroup {
	rtn := make([]*NodeGroup, 0, len(ra.order))
	for _, name := range ra.order {
		rtn = append(rtn, ra.groups[name])
	}
	return rtn
}

// Nodes returns every node in creation order
func (ra *RoleAllocator) Nodes() []*Node {
	return ra.nodes
}
