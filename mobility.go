package netscen

// mobility.go attaches motion profiles to node groups.  A node is either stationary or moves
// at a constant velocity from a reference position.  Positions not given explicitly come from
// a placement policy; the default is a deterministic grid

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/iti/rngstream"
)

// Vector is a position (meters) or velocity (meters/second)
type Vector struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Add returns v + w
func (v Vector) Add(w Vector) Vector {
	return Vector{X: v.X + w.X, Y: v.Y + w.Y, Z: v.Z + w.Z}
}

// Scale returns v scaled by s
func (v Vector) Scale(s float64) Vector {
	return Vector{X: s * v.X, Y: s * v.Y, Z: s * v.Z}
}

// Distance returns the euclidean distance between v and w
func (v Vector) Distance(w Vector) float64 {
	dx, dy, dz := v.X-w.X, v.Y-w.Y, v.Z-w.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// MobilityKind selects the motion rule
type MobilityKind string

const (
	Stationary       MobilityKind = "constant-position"
	ConstantVelocity MobilityKind = "constant-velocity"
)

// MobilityProfile is what a group is given.  Positions, when present, must have one entry
// per node; Velocity is the initial velocity shared by the group (constant-velocity only)
type MobilityProfile struct {
	Kind      MobilityKind `json:"kind" yaml:"kind"`
	Positions []Vector     `json:"positions,omitempty" yaml:"positions,omitempty"`
	Velocity  Vector       `json:"velocity" yaml:"velocity"`
}

// MobilityModel is the motion state of one node
type MobilityModel struct {
	Kind     MobilityKind
	Origin   Vector
	Velocity Vector
}

// PositionAt returns the node position at simulation time t (seconds)
func (mm *MobilityModel) PositionAt(t float64) Vector {
	if mm.Kind == Stationary {
		return mm.Origin
	}
	return mm.Origin.Add(mm.Velocity.Scale(t))
}

// SetVelocity changes the velocity of a constant-velocity model
func (mm *MobilityModel) SetVelocity(v Vector) error {
	if mm.Kind != ConstantVelocity {
		return fmt.Errorf("%w: velocity given to a %s model", ErrMobility, mm.Kind)
	}
	mm.Velocity = v
	return nil
}

// BoundingBox limits where nodes may be placed
type BoundingBox struct {
	MinX float64 `json:"minx" yaml:"minx"`
	MaxX float64 `json:"maxx" yaml:"maxx"`
	MinY float64 `json:"miny" yaml:"miny"`
	MaxY float64 `json:"maxy" yaml:"maxy"`
}

// Contains reports whether the position lies in the box (edges included)
func (bb BoundingBox) Contains(p Vector) bool {
	return p.X >= bb.MinX && p.X <= bb.MaxX && p.Y >= bb.MinY && p.Y <= bb.MaxY
}

// Placement produces the idx-th default position of a group
type Placement interface {
	Position(group string, idx int) Vector
}

// GridPlacement lays nodes out row first: GridWidth nodes per row starting at (MinX, MinY),
// DeltaX apart within a row and DeltaY between rows
type GridPlacement struct {
	MinX      float64 `json:"minx" yaml:"minx"`
	MinY      float64 `json:"miny" yaml:"miny"`
	DeltaX    float64 `json:"deltax" yaml:"deltax"`
	DeltaY    float64 `json:"deltay" yaml:"deltay"`
	GridWidth int     `json:"gridwidth" yaml:"gridwidth"`
}

// DefaultGridPlacement is the layout used when a stationary group gives no positions
func DefaultGridPlacement() GridPlacement {
	return GridPlacement{MinX: 0, MinY: 0, DeltaX: 5, DeltaY: 10, GridWidth: 3}
}

// DefaultBoundingBox is the area the default grid must fit in
func DefaultBoundingBox() BoundingBox {
	return BoundingBox{MinX: -50, MaxX: 50, MinY: -50, MaxY: 50}
}

// Position returns the idx-th grid point
func (gp GridPlacement) Position(group string, idx int) Vector {
	width := gp.GridWidth
	if width < 1 {
		width = 1
	}
	row, col := idx/width, idx%width
	return Vector{X: gp.MinX + float64(col)*gp.DeltaX, Y: gp.MinY + float64(row)*gp.DeltaY}
}

// Capacity returns how many grid points fall within the box.  With the defaults this is 18,
// which is the per-cell station bound
func (gp GridPlacement) Capacity(bb BoundingBox) int {
	if gp.GridWidth < 1 || gp.DeltaY <= 0 || gp.DeltaX <= 0 {
		return 0
	}
	if !bb.Contains(Vector{X: gp.MinX, Y: gp.MinY}) {
		return 0
	}
	cols := int(math.Floor((bb.MaxX-gp.MinX)/gp.DeltaX)) + 1
	if cols > gp.GridWidth {
		cols = gp.GridWidth
	}
	rows := int(math.Floor((bb.MaxY-gp.MinY)/gp.DeltaY)) + 1
	return rows * cols
}

// moduli bounding the two halves of an rngstream seed
const (
	seedModulus1 uint64 = 4294967087
	seedModulus2 uint64 = 4294944443
)

// seededStream returns a stream whose initial state is a function of its name and seed only.
// rngstream.New alone starts each stream where the previous one left off, so the values a
// stream draws would depend on how many streams the process created before it
func seededStream(name string, seed uint64) *rngstream.RngStream {
	rng := rngstream.New(name)

	h := fnv.New64a()
	h.Write([]byte(name))
	mix := h.Sum64() ^ seed

	state := make([]uint64, 6)
	for idx := range state {
		mix = mix*6364136223846793005 + 1442695040888963407
		modulus := seedModulus1
		if idx >= 3 {
			modulus = seedModulus2
		}
		// never zero, always below the modulus
		state[idx] = (mix>>11)%(modulus-1) + 1
	}
	rng.SetSeed(state)
	return rng
}

// RandomPlacement draws positions uniformly in a box from a named rngstream stream.
// Positions are cached so repeated queries agree, and the same name and seed always
// produce the same positions
type RandomPlacement struct {
	Box   BoundingBox
	rng   *rngstream.RngStream
	drawn map[string][]Vector
}

// CreateRandomPlacement is a constructor
func CreateRandomPlacement(name string, seed uint64, box BoundingBox) *RandomPlacement {
	return &RandomPlacement{Box: box, rng: seededStream(name, seed), drawn: make(map[string][]Vector)}
}

// Position returns the idx-th random point of the group
func (rp *RandomPlacement) Position(group string, idx int) Vector {
	for len(rp.drawn[group]) <= idx {
		x := rp.Box.MinX + rp.rng.RandU01()*(rp.Box.MaxX-rp.Box.MinX)
		y := rp.Box.MinY + rp.rng.RandU01()*(rp.Box.MaxY-rp.Box.MinY)
		rp.drawn[group] = append(rp.drawn[group], Vector{X: x, Y: y})
	}
	return rp.drawn[group][idx]
}

// MobilityAssigner attaches mobility models to groups
type MobilityAssigner struct {
	placement Placement
	box       BoundingBox
}

// CreateMobilityAssigner is a constructor.  A nil placement selects the default grid
func CreateMobilityAssigner(placement Placement, box BoundingBox) *MobilityAssigner {
	if placement == nil {
		placement = DefaultGridPlacement()
	}
	return &MobilityAssigner{placement: placement, box: box}
}

// Install gives every node of the group a model built from the profile.  A node that already
// has a model (e.g. a backbone endpoint reached through an alias group) is overwritten only
// when overwrite is true
func (ma *MobilityAssigner) Install(group *NodeGroup, profile MobilityProfile, overwrite bool) error {
	if profile.Kind != Stationary && profile.Kind != ConstantVelocity {
		return fmt.Errorf("%w: unknown kind %q for group %s", ErrMobility, profile.Kind, group.Name)
	}
	if len(profile.Positions) > 0 && len(profile.Positions) != group.Len() {
		return fmt.Errorf("%w: group %s has %d nodes but %d positions", ErrMobility,
			group.Name, group.Len(), len(profile.Positions))
	}

	positions := make([]Vector, group.Len())
	for idx := range group.Nodes {
		if len(profile.Positions) > 0 {
			positions[idx] = profile.Positions[idx]
		} else {
			positions[idx] = ma.placement.Position(group.Name, idx)
		}
		if !ma.box.Contains(positions[idx]) {
			return fmt.Errorf("%w: node %s placed at (%g,%g) outside the bounding box", ErrMobility,
				group.Nodes[idx].Name, positions[idx].X, positions[idx].Y)
		}
	}

	for idx, node := range group.Nodes {
		if node.Mobility != nil && !overwrite {
			continue
		}
		mm := &MobilityModel{Kind: profile.Kind, Origin: positions[idx]}
		if profile.Kind == ConstantVelocity {
			mm.Velocity = profile.Velocity
		}
		node.Mobility = mm
	}
	return nil
}

// SetVelocity is the post-install pass for constant-velocity groups.  velocity is called once
// per node, in group order
func (ma *MobilityAssigner) SetVelocity(group *NodeGroup, velocity func(idx int, node *Node) Vector) error {
	for idx, node := range group.Nodes {
		if node.Mobility == nil {
			return fmt.Errorf("%w: %s", ErrUnpositioned, node.Name)
		}
		if err := node.Mobility.SetVelocity(velocity(idx, node)); err != nil {
			return fmt.Errorf("node %s: %w", node.Name, err)
		}
	}
	return nil
}

// CheckPositioned returns an error naming every node of the list lacking a mobility model
func CheckPositioned(nodes []*Node) error {
	errs := make([]error, 0)
	for _, node := range nodes {
		if node.Mobility == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnpositioned, node.Name))
		}
	}
	return ReportErrs(errs)
}
