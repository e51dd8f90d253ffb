package netscen

// addr.go partitions an IPv4 address space into disjoint per-segment blocks.
// Blocks are laid out in the order they are requested (backbone first, then cell 1, cell 2, ...),
// each aligned to its own size, by a cursor that only moves forward.  Within a block the i-th
// device of the bound list receives the i-th usable host address

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// BlockRequest asks for one block of prefix length Bits, bound to an ordered device list
type BlockRequest struct {
	Name    string
	Devices DeviceList
	Bits    int
}

// AddressBlock is a subnet bound to exactly one device list
type AddressBlock struct {
	Name    string
	Prefix  netip.Prefix
	Devices DeviceList
	addrs   []netip.Addr
	intrfcs []*Interface
}

// Base returns the network address of the block
func (ab *AddressBlock) Base() netip.Addr {
	return ab.Prefix.Addr()
}

// Address returns the address assigned to the idx-th bound device
func (ab *AddressBlock) Address(idx int) netip.Addr {
	return ab.addrs[idx]
}

// Addresses returns the assigned addresses in device order
func (ab *AddressBlock) Addresses() []netip.Addr {
	rtn := make([]netip.Addr, len(ab.addrs))
	copy(rtn, ab.addrs)
	return rtn
}

// AddressOf returns the address the device received from this block
func (ab *AddressBlock) AddressOf(dev *Device) (netip.Addr, bool) {
	idx := ab.Devices.Index(dev)
	if idx < 0 {
		return netip.Addr{}, false
	}
	return ab.addrs[idx], true
}

// Interfaces returns the interfaces created by binding the block, in device order
func (ab *AddressBlock) Interfaces() []*Interface {
	return ab.intrfcs
}

// Size returns the number of addresses the block spans
func (ab *AddressBlock) Size() uint64 {
	return uint64(1) << (32 - ab.Prefix.Bits())
}

// Overlaps reports whether two blocks share any address
func (ab *AddressBlock) Overlaps(other *AddressBlock) bool {
	return ab.Prefix.Overlaps(other.Prefix)
}

// AddressPlanner hands out blocks from a configured address space
type AddressPlanner struct {
	space  netip.Prefix
	cursor uint64
	limit  uint64
	blocks []*AddressBlock
}

// CreateAddressPlanner is a constructor.  space is a CIDR prefix such as "10.1.0.0/16"; first is
// the address at which the cursor starts, e.g. "10.1.1.0".  An empty first starts at the base of
// the space
func CreateAddressPlanner(space, first string) (*AddressPlanner, error) {
	prefix, err := netip.ParsePrefix(space)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressSpace, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("%w: %s is not IPv4", ErrAddressSpace, space)
	}
	prefix = prefix.Masked()

	start := prefix.Addr()
	if len(first) > 0 {
		start, err = netip.ParseAddr(first)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAddressSpace, err)
		}
		if !prefix.Contains(start) {
			return nil, fmt.Errorf("%w: first block address %s lies outside %s", ErrAddressSpace, first, space)
		}
	}

	ap := new(AddressPlanner)
	ap.space = prefix
	ap.cursor = addrToUint(start)
	ap.limit = addrToUint(prefix.Addr()) + (uint64(1) << (32 - prefix.Bits()))
	ap.blocks = make([]*AddressBlock, 0)
	return ap, nil
}

// Space returns the configured address space
func (ap *AddressPlanner) Space() netip.Prefix {
	return ap.space
}

// Blocks returns every block allocated so far, in allocation order
func (ap *AddressPlanner) Blocks() []*AddressBlock {
	return ap.blocks
}

// Plan lays out one block per request, in request order, then binds each block's devices
// through the IP stack.  Layout is checked in full first: if any request cannot be met
// nothing is allocated and no device is addressed
func (ap *AddressPlanner) Plan(stack *IPStack, reqs []BlockRequest) ([]*AddressBlock, error) {
	cursor := ap.cursor
	blocks := make([]*AddressBlock, 0, len(reqs))

	for _, req := range reqs {
		if req.Bits < 1 || req.Bits > 30 {
			return nil, fmt.Errorf("%w: block %s prefix length /%d not in /1../30", ErrAddressSpace, req.Name, req.Bits)
		}
		if req.Bits < ap.space.Bits() {
			return nil, fmt.Errorf("%w: block %s /%d is larger than the space %s", ErrAddressExhausted,
				req.Name, req.Bits, ap.space)
		}
		size := uint64(1) << (32 - req.Bits)
		if hosts := size - 2; uint64(len(req.Devices)) > hosts {
			return nil, fmt.Errorf("%w: block %s /%d holds %d hosts, %d devices bound", ErrAddressExhausted,
				req.Name, req.Bits, hosts, len(req.Devices))
		}

		// align the cursor to the block size
		if rem := cursor % size; rem != 0 {
			cursor += size - rem
		}
		if cursor+size > ap.limit {
			return nil, fmt.Errorf("%w: block %s /%d does not fit in %s", ErrAddressExhausted,
				req.Name, req.Bits, ap.space)
		}

		base := uintToAddr(cursor)
		ab := &AddressBlock{Name: req.Name, Prefix: netip.PrefixFrom(base, req.Bits), Devices: req.Devices}
		ab.addrs = make([]netip.Addr, len(req.Devices))
		for idx := range req.Devices {
			ab.addrs[idx] = uintToAddr(cursor + uint64(idx) + 1)
		}
		blocks = append(blocks, ab)
		cursor += size
	}

	// every device must sit on a node that can take an address before any is bound
	errs := make([]error, 0)
	seen := make(map[*Device]string)
	for _, ab := range blocks {
		for _, dev := range ab.Devices {
			if !dev.Node.Stack {
				errs = append(errs, fmt.Errorf("%w: %s (block %s)", ErrNoStack, dev.Node.Name, ab.Name))
			}
			if dev.Intrfc != nil {
				errs = append(errs, fmt.Errorf("%w: device %s already addressed", ErrConfiguration, dev.Name))
			}
			if prior, present := seen[dev]; present {
				errs = append(errs, fmt.Errorf("%w: device %s bound to blocks %s and %s", ErrConfiguration,
					dev.Name, prior, ab.Name))
			}
			seen[dev] = ab.Name
		}
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}

	for _, ab := range blocks {
		ab.intrfcs = make([]*Interface, len(ab.Devices))
		for idx, dev := range ab.Devices {
			intrfc, err := stack.AssignAddress(dev, ab.Prefix, ab.addrs[idx])
			if err != nil {
				return nil, err
			}
			ab.intrfcs[idx] = intrfc
		}
	}

	ap.cursor = cursor
	ap.blocks = append(ap.blocks, blocks...)
	return blocks, nil
}

func addrToUint(addr netip.Addr) uint64 {
	b := addr.As4()
	return uint64(binary.BigEndian.Uint32(b[:]))
}

func uintToAddr(v uint64) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return netip.AddrFrom4(b)
}
