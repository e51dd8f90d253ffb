package netscen

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairTopology is two cells whose access points share a point-to-point link
type pairTopology struct {
	ra       *RoleAllocator
	backbone *NodeGroup
	sta1     *NodeGroup
	sta2     *NodeGroup
	lnk      *Link
	cell1    *WirelessCell
	cell2    *WirelessCell
	stack    *IPStack
	planner  *AddressPlanner
}

func buildPairTopology(t *testing.T, stations int) *pairTopology {
	t.Helper()
	pt := &pairTopology{ra: CreateRoleAllocator()}
	groups, err := pt.ra.Allocate([]GroupSpec{
		{Name: "backbone", Role: RoleBackbone, Size: 2},
		{Name: "wifi_1-sta", Role: RoleStation, Size: stations},
		{Name: "wifi_2-sta", Role: RoleStation, Size: stations},
	})
	require.NoError(t, err)
	pt.backbone, pt.sta1, pt.sta2 = groups[0], groups[1], groups[2]

	dt := CreateDeviceTable()
	lfb := CreateLinkFabricBuilder(dt)
	pt.lnk, _, err = lfb.PointToPoint("backbone-0", LinkAttrs{DataRate: "5Mbps", Delay: "2ms"},
		pt.backbone.Get(0), pt.backbone.Get(1))
	require.NoError(t, err)

	wcb := CreateWirelessCellBuilder(dt)
	ch1, err := wcb.CreateChannel(DefaultChannelConfig("wifi_1"))
	require.NoError(t, err)
	ch2, err := wcb.CreateChannel(DefaultChannelConfig("wifi_2"))
	require.NoError(t, err)
	pt.cell1, err = wcb.Build("wifi_1", ch1, pt.backbone.Get(0), pt.sta1, StationConfig{})
	require.NoError(t, err)
	pt.cell2, err = wcb.Build("wifi_2", ch2, pt.backbone.Get(1), pt.sta2, StationConfig{})
	require.NoError(t, err)

	pt.stack = CreateIPStack()
	pt.stack.InstallStack(pt.ra.Nodes()...)
	pt.planner, err = CreateAddressPlanner("10.1.0.0/16", "10.1.1.0")
	require.NoError(t, err)
	return pt
}

func (pt *pairTopology) requests() []BlockRequest {
	return []BlockRequest{
		{Name: pt.lnk.Name, Devices: pt.lnk.Devices, Bits: 24},
		{Name: pt.cell1.SSID, Devices: pt.cell1.Devices(), Bits: 24},
		{Name: pt.cell2.SSID, Devices: pt.cell2.Devices(), Bits: 24},
	}
}

func TestPlanLaysOutBlocksInOrder(t *testing.T) {
	pt := buildPairTopology(t, 4)
	blocks, err := pt.planner.Plan(pt.stack, pt.requests())
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	assert.Equal(t, netip.MustParsePrefix("10.1.1.0/24"), blocks[0].Prefix)
	assert.Equal(t, netip.MustParsePrefix("10.1.2.0/24"), blocks[1].Prefix)
	assert.Equal(t, netip.MustParsePrefix("10.1.3.0/24"), blocks[2].Prefix)

	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.1.1.1"), netip.MustParseAddr("10.1.1.2")},
		blocks[0].Addresses())

	// stations first, then the access point
	for idx := 0; idx < 4; idx++ {
		addr, ok := blocks[1].AddressOf(pt.cell1.Members[idx])
		require.True(t, ok)
		assert.Equal(t, netip.AddrFrom4([4]byte{10, 1, 2, byte(idx + 1)}), addr)
	}
	assert.Equal(t, netip.MustParseAddr("10.1.2.5"), blocks[1].Address(4))
	assert.Equal(t, netip.MustParseAddr("10.1.2.0"), blocks[1].Base())
	assert.Equal(t, uint64(256), blocks[1].Size())

	for i := range blocks {
		for j := i + 1; j < len(blocks); j++ {
			assert.False(t, blocks[i].Overlaps(blocks[j]), "%s overlaps %s", blocks[i].Name, blocks[j].Name)
		}
	}
	assert.Equal(t, blocks, pt.planner.Blocks())
}

func TestPlanGivesEachDeviceOneAddress(t *testing.T) {
	pt := buildPairTopology(t, 3)
	blocks, err := pt.planner.Plan(pt.stack, pt.requests())
	require.NoError(t, err)

	seen := make(map[netip.Addr]bool)
	for _, ab := range blocks {
		for idx, dev := range ab.Devices {
			require.NotNil(t, dev.Intrfc)
			assert.Equal(t, ab.Address(idx), dev.Intrfc.Addr)
			assert.Equal(t, ab.Prefix, dev.Intrfc.Prefix)
			assert.Same(t, dev.Intrfc, ab.Interfaces()[idx])
			assert.False(t, seen[dev.Intrfc.Addr])
			seen[dev.Intrfc.Addr] = true
		}
	}

	// the access point holds its backbone address first
	intrfcs := pt.stack.Interfaces(pt.backbone.Get(0))
	require.Len(t, intrfcs, 2)
	assert.Equal(t, MediumP2P, intrfcs[0].Device.Medium)
	assert.Equal(t, 1, intrfcs[1].Index)
}

func TestPlanExhaustionAllocatesNothing(t *testing.T) {
	pt := buildPairTopology(t, 2)
	planner, err := CreateAddressPlanner("10.1.0.0/23", "10.1.1.0")
	require.NoError(t, err)

	_, err = planner.Plan(pt.stack, pt.requests())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAddressExhausted))
	assert.Empty(t, planner.Blocks())
	for _, dev := range pt.cell1.Devices().Concat(pt.lnk.Devices) {
		assert.Nil(t, dev.Intrfc)
	}

	// the failed plan leaves the cursor where it was
	blocks, err := planner.Plan(pt.stack, pt.requests()[:1])
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.1.1.0/24"), blocks[0].Prefix)
}

func TestPlanRejections(t *testing.T) {
	pt := buildPairTopology(t, 3)

	_, err := pt.planner.Plan(pt.stack, []BlockRequest{{Name: "tiny", Devices: pt.cell1.Devices(), Bits: 30}})
	assert.True(t, errors.Is(err, ErrAddressExhausted))

	_, err = pt.planner.Plan(pt.stack, []BlockRequest{{Name: "wide", Devices: pt.lnk.Devices, Bits: 8}})
	assert.True(t, errors.Is(err, ErrAddressExhausted))

	_, err = pt.planner.Plan(pt.stack, []BlockRequest{{Name: "zero", Devices: pt.lnk.Devices, Bits: 0}})
	assert.True(t, errors.Is(err, ErrAddressSpace))

	_, err = pt.planner.Plan(pt.stack, []BlockRequest{
		{Name: "a", Devices: pt.lnk.Devices, Bits: 24},
		{Name: "b", Devices: pt.lnk.Devices, Bits: 24},
	})
	assert.True(t, errors.Is(err, ErrConfiguration))

	bare := CreateIPStack()
	ra := CreateRoleAllocator()
	ng, err := ra.Create("lan", RoleBackbone, 2, 0)
	require.NoError(t, err)
	lnk, _, err := CreateLinkFabricBuilder(CreateDeviceTable()).Shared("segment",
		LinkAttrs{DataRate: "100Mbps", Delay: "6560ns"}, ng.Nodes...)
	require.NoError(t, err)
	_, err = pt.planner.Plan(bare, []BlockRequest{{Name: "segment", Devices: lnk.Devices, Bits: 24}})
	assert.True(t, errors.Is(err, ErrNoStack))
	assert.Empty(t, pt.planner.Blocks())
}

func TestPlanAlignsBlocks(t *testing.T) {
	pt := buildPairTopology(t, 2)
	blocks, err := pt.planner.Plan(pt.stack, []BlockRequest{{Name: "wide", Devices: pt.lnk.Devices, Bits: 23}})
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.1.2.0/23"), blocks[0].Prefix)
	assert.Equal(t, netip.MustParseAddr("10.1.2.1"), blocks[0].Address(0))
}

func TestCreateAddressPlannerRejections(t *testing.T) {
	_, err := CreateAddressPlanner("bogus", "")
	assert.True(t, errors.Is(err, ErrAddressSpace))

	_, err = CreateAddressPlanner("fd00::/64", "")
	assert.True(t, errors.Is(err, ErrAddressSpace))

	_, err = CreateAddressPlanner("10.1.0.0/16", "10.2.0.0")
	assert.True(t, errors.Is(err, ErrAddressSpace))

	ap, err := CreateAddressPlanner("10.1.7.9/16", "")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.1.0.0/16"), ap.Space())
}
