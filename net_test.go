package netscen

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sink remembers what reached it and when
type sink struct {
	pkts  []*Packet
	times []float64
}

func (s *sink) Receive(np *NetworkPortal, pkt *Packet) {
	s.pkts = append(s.pkts, pkt)
	s.times = append(s.times, np.sc.Now())
}

func routedPair(t *testing.T, stations int) (*pairTopology, *SimulationContext, *NetworkPortal) {
	t.Helper()
	pt := addressedPair(t, stations)
	require.NoError(t, pt.stack.PopulateRoutingTables([]*Link{pt.lnk}, []*WirelessCell{pt.cell1, pt.cell2}))
	sc := CreateSimulationContext()
	return pt, sc, CreateNetworkPortal(sc, pt.stack, nil, nil, nil)
}

func TestBindPorts(t *testing.T) {
	_, _, np := routedPair(t, 1)
	addr := netip.MustParseAddr("10.1.2.1")

	first, err := np.Bind(addr, 0, &sink{})
	require.NoError(t, err)
	assert.Equal(t, uint16(49153), first.Port())
	second, err := np.Bind(addr, 0, &sink{})
	require.NoError(t, err)
	assert.Equal(t, uint16(49154), second.Port())

	_, err = np.Bind(addr, 9, &sink{})
	require.NoError(t, err)
	_, err = np.Bind(addr, 9, &sink{})
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = np.Bind(netip.MustParseAddr("10.9.9.9"), 9, &sink{})
	assert.True(t, errors.Is(err, ErrNotAddressed))

	np.Unbind(first)
	assert.False(t, np.Bound(first))
	assert.True(t, np.Bound(second))
	again, err := np.Bind(addr, 0, &sink{})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	np.Unbind(netip.AddrPortFrom(addr, 7))
}

func TestSendAcrossBackbone(t *testing.T) {
	pt, sc, np := routedPair(t, 1)
	dst := &sink{}
	remote, err := np.Bind(netip.MustParseAddr("10.1.3.1"), 9, dst)
	require.NoError(t, err)
	local := netip.MustParseAddrPort("10.1.2.1:49153")

	pkt, err := np.Send(ProbePacket, local, remote, 1024, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, pkt.Hops())
	require.NoError(t, sc.Run(1.0))

	require.Len(t, dst.pkts, 1)
	assert.Same(t, pkt, dst.pkts[0])
	want := 2*pt.cell1.Channel.TxTime(1024) + pt.lnk.TxTime(1024) + pt.lnk.Delay
	assert.InDelta(t, want, dst.times[0], 1e-6)
	assert.Equal(t, 1, np.Delivered())
	assert.Empty(t, np.Dropped())
}

func TestSendDrops(t *testing.T) {
	_, sc, np := routedPair(t, 1)
	local := netip.MustParseAddrPort("10.1.2.1:49153")

	_, err := np.Send(ProbePacket, local, netip.MustParseAddrPort("10.1.3.1:10"), 64, 0)
	require.NoError(t, err)
	_, err = np.Send(ProbePacket, local, netip.MustParseAddrPort("10.7.7.7:9"), 64, 0)
	require.NoError(t, err)
	_, err = np.Send(ProbePacket, netip.MustParseAddrPort("10.7.7.7:9"), local, 64, 0)
	assert.True(t, errors.Is(err, ErrNotAddressed))

	require.NoError(t, sc.Run(1.0))
	assert.Equal(t, map[string]int{"no-listener": 1, "no-route": 1}, np.Dropped())
	assert.Equal(t, 0, np.Delivered())
}

func TestSendToSameNode(t *testing.T) {
	_, sc, np := routedPair(t, 1)
	dst := &sink{}
	remote, err := np.Bind(netip.MustParseAddr("10.1.1.1"), 9, dst)
	require.NoError(t, err)

	// the access point's wireless address and its backbone address share a node
	pkt, err := np.Send(ProbePacket, netip.MustParseAddrPort("10.1.2.2:49153"), remote, 64, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, pkt.Hops())
	require.NoError(t, sc.Run(1.0))
	require.Len(t, dst.times, 1)
	assert.Equal(t, 0.0, dst.times[0])
}

func TestHopDelayWireless(t *testing.T) {
	pt := buildPairTopology(t, 1)
	out, in := pt.cell1.Members[0], pt.cell1.Coordinator
	txTime := pt.cell1.Channel.TxTime(1000)

	assert.InDelta(t, txTime, HopDelay(out, in, 1000, 0), 1e-12)

	out.Node.Mobility = &MobilityModel{Kind: Stationary}
	in.Node.Mobility = &MobilityModel{Kind: ConstantVelocity, Velocity: Vector{X: speedOfLight / 10}}
	assert.InDelta(t, txTime+0.5, HopDelay(out, in, 1000, 5), 1e-9)
}

func TestHopDelayWired(t *testing.T) {
	pt := buildPairTopology(t, 1)
	got := HopDelay(pt.lnk.Devices[0], pt.lnk.Devices[1], 1024, 0)
	assert.InDelta(t, 8192/5e6+0.002, got, 1e-12)
}
