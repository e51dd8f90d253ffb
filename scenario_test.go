package netscen

import (
	"bytes"
	"errors"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iti/netscen/internal/logging"
)

func TestDualCellBuild(t *testing.T) {
	s, err := Build(DefaultDualCellParams(), Options{})
	require.NoError(t, err)

	assert.Len(t, s.Allocator.Nodes(), 10)
	assert.Len(t, s.Devices.Devices(), 12)
	assert.Len(t, s.Fabric.Links(), 1)
	require.Len(t, s.Blocks, 3)
	assert.NotEmpty(t, s.RunID)

	cell1, ok := s.CellBlock("wifi_1")
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("10.1.2.0/24"), cell1.Prefix)

	stations, err := s.Group(StationGroup("wifi_1"))
	require.NoError(t, err)
	for idx, node := range stations.Nodes {
		intrfcs := s.Stack.Interfaces(node)
		require.Len(t, intrfcs, 1)
		assert.Equal(t, netip.AddrFrom4([4]byte{10, 1, 2, byte(idx + 1)}), intrfcs[0].Addr)

		require.NotNil(t, node.Mobility)
		assert.Equal(t, ConstantVelocity, node.Mobility.Kind)
		assert.Equal(t, 0.01, node.Mobility.Velocity.X)
	}
	assert.Equal(t, netip.MustParseAddr("10.1.2.5"), cell1.Address(4))

	ap, err := s.Group(APGroup("wifi_2"))
	require.NoError(t, err)
	assert.Equal(t, Stationary, ap.Get(0).Mobility.Kind)
	assert.True(t, ap.Get(0).HasRole(RoleInfrastructure))
	assert.True(t, ap.Get(0).HasRole(RoleBackbone))

	// the first cell is coordinated from the far endpoint of the backbone link
	ap1, err := s.Group(APGroup("wifi_1"))
	require.NoError(t, err)
	assert.Equal(t, "backbone.1", ap1.Get(0).Name)
	assert.Equal(t, "backbone.0", ap.Get(0).Name)
	assert.Equal(t, netip.MustParseAddr("10.1.1.2"), s.Stack.Interfaces(ap1.Get(0))[0].Addr)
	assert.Equal(t, netip.MustParseAddr("10.1.1.1"), s.Stack.Interfaces(ap.Get(0))[0].Addr)

	servers, err := s.Group(StationGroup("wifi_2"))
	require.NoError(t, err)
	for _, src := range stations.Nodes {
		for _, dst := range servers.Nodes {
			route, err := s.Stack.Route(src, dst)
			require.NoError(t, err, "%s to %s", src.Name, dst.Name)
			assert.Equal(t, []*Node{src, ap1.Get(0), ap.Get(0), dst}, route)
		}
	}

	assert.Equal(t, "10.1.3.1:9", s.Server.Local.String())
	assert.Len(t, s.Clients, 4)
	assert.Len(t, s.Capture.Labels(), 4)
}

func TestDualCellRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := Build(DefaultDualCellParams(), Options{Registerer: reg})
	require.NoError(t, err)

	report, err := s.Run()
	require.NoError(t, err)
	assert.Equal(t, 8, report.ProbesSent)
	assert.Equal(t, 8, report.Replies)
	assert.Equal(t, 8, report.Received)
	assert.Equal(t, 16, report.Delivered)
	assert.Equal(t, 0, report.DroppedTotal())
	assert.Equal(t, 64, report.Captured)
	assert.Equal(t, s.RunID, report.RunID)
	for _, cr := range report.Clients {
		assert.Equal(t, 2, cr.Replies)
		assert.Greater(t, cr.MeanRTT, 0.002)
	}

	assert.Equal(t, 10.0, testutil.ToFloat64(s.Metrics.Nodes))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.Metrics.Blocks))
	assert.Equal(t, 8.0, testutil.ToFloat64(s.Metrics.ProbesSent))
	assert.Equal(t, 8.0, testutil.ToFloat64(s.Metrics.RepliesReceived))
	assert.Equal(t, 16.0, testutil.ToFloat64(s.Metrics.Hops.WithLabelValues(string(MediumP2P))))
	assert.Equal(t, 32.0, testutil.ToFloat64(s.Metrics.Hops.WithLabelValues(string(MediumWifi))))

	assert.True(t, s.Context.Destroyed())
	_, err = s.Run()
	assert.True(t, errors.Is(err, ErrContextFinished))
}

func TestLanCellRun(t *testing.T) {
	s, err := Build(DefaultLanCellParams(), Options{})
	require.NoError(t, err)

	assert.Len(t, s.Allocator.Nodes(), 9)
	assert.Len(t, s.Devices.Devices(), 10)
	require.Len(t, s.Blocks, 2)
	assert.Equal(t, netip.MustParsePrefix("10.1.1.0/24"), s.Blocks[0].Prefix)
	assert.Equal(t, "10.1.2.1:9", s.Server.Local.String())
	require.Len(t, s.Clients, 5)
	assert.Equal(t, "10.1.1.1:49153", s.Clients[0].Local.String())

	report, err := s.Run()
	require.NoError(t, err)
	assert.Equal(t, 5, report.ProbesSent)
	assert.Equal(t, 5, report.Replies)
	assert.Equal(t, 0, report.DroppedTotal())
	assert.Equal(t, 18, report.Captured)
}

func TestLanNodesArePositionedStations(t *testing.T) {
	s, err := Build(DefaultLanCellParams(), Options{})
	require.NoError(t, err)

	lan, err := s.Group(LanGroup)
	require.NoError(t, err)
	require.Equal(t, 4, lan.Len())
	for _, node := range lan.Nodes {
		assert.NotEmpty(t, s.Stack.Interfaces(node))
		require.NotNil(t, node.Mobility, node.Name)
		assert.Equal(t, Stationary, node.Mobility.Kind)
		assert.True(t, node.HasRole(RoleStation))
		assert.False(t, node.HasRole(RoleBackbone))
	}
	backbone, err := s.Group(BackboneGroup)
	require.NoError(t, err)
	assert.True(t, backbone.Get(0).HasRole(RoleBackbone))

	// an addressed node losing its profile stops the run before the clock starts
	lan.Get(2).Mobility = nil
	_, err = s.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnpositioned))
	assert.Contains(t, err.Error(), lan.Get(2).Name)
	assert.False(t, s.Context.Destroyed())
}

func TestBuildRejectsOversizedLan(t *testing.T) {
	sp := DefaultLanCellParams()
	sp.LanNodes = 19

	_, err := Build(sp, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGroupSize))
	assert.Contains(t, err.Error(), "group lan size 19")
}

func TestBuildRejectsOversizedCell(t *testing.T) {
	sp := DefaultDualCellParams()
	require.NoError(t, sp.SetStations([]int{20}))

	s, err := Build(sp, Options{})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrGroupSize))
	assert.Contains(t, err.Error(), "exceeds the mobility bounding box")
}

func TestBuildNamesFailingStage(t *testing.T) {
	sp := DefaultDualCellParams()
	sp.AddressSpace = "10.1.1.0/24"

	_, err := Build(sp, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAddressExhausted))
	assert.True(t, strings.HasPrefix(err.Error(), "addresses: "), err.Error())
}

func TestBuildIsDeterministic(t *testing.T) {
	first, err := Build(DefaultDualCellParams(), Options{})
	require.NoError(t, err)
	second, err := Build(DefaultDualCellParams(), Options{})
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Describe(), second.Describe())
}

func TestRandomizedBuildIsDeterministic(t *testing.T) {
	params := func(seed uint64) *ScenarioParams {
		sp := DefaultDualCellParams()
		sp.Placement.Random = "same-stream"
		sp.Traffic.StartJitter = 0.5
		sp.Seed = seed
		return sp
	}
	origins := func(s *Scenario) []Vector {
		rtn := make([]Vector, 0)
		for _, node := range s.Allocator.Nodes() {
			rtn = append(rtn, node.Mobility.Origin)
		}
		return rtn
	}
	starts := func(s *Scenario) []float64 {
		rtn := make([]float64, 0)
		for _, client := range s.Clients {
			rtn = append(rtn, client.Window.Start)
		}
		return rtn
	}

	first, err := Build(params(DefaultSeed), Options{})
	require.NoError(t, err)
	second, err := Build(params(DefaultSeed), Options{})
	require.NoError(t, err)
	other, err := Build(params(DefaultSeed+1), Options{})
	require.NoError(t, err)

	assert.Equal(t, first.Describe(), second.Describe())
	assert.Equal(t, origins(first), origins(second))
	assert.Equal(t, starts(first), starts(second))
	assert.NotEqual(t, origins(first), origins(other))
	assert.NotEqual(t, starts(first), starts(other))
}

func TestRandomPlacementScenario(t *testing.T) {
	sp := DefaultLanCellParams()
	sp.Placement.Random = "scenario-placement"
	s, err := Build(sp, Options{})
	require.NoError(t, err)

	stations, err := s.Group(StationGroup("wifi_1"))
	require.NoError(t, err)
	for _, node := range stations.Nodes {
		assert.True(t, sp.Placement.Box.Contains(node.Mobility.Origin))
	}
}

func TestVerboseRunLogsTraffic(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})

	s, err := Build(DefaultLanCellParams(), Options{Logger: logger})
	require.NoError(t, err)
	_, err = s.Run()
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "server received packet")
	assert.Contains(t, out, "client received packet")
	assert.Contains(t, out, "scenario run complete")
	assert.Contains(t, out, `"rtt":`)
	assert.Contains(t, out, `"activeprobing":false`)
	assert.Contains(t, out, `"labels":["third-0-0"`)
	assert.Contains(t, out, `"drops":{}`)
}

func TestDescribeRoundTrip(t *testing.T) {
	s, err := Build(DefaultDualCellParams(), Options{})
	require.NoError(t, err)
	desc := s.Describe()

	assert.Equal(t, "10.1.3.1:9", desc.Server)
	require.Len(t, desc.Links, 1)
	assert.Equal(t, "5 Mbps", desc.Links[0].DataRate)
	require.Len(t, desc.Cells, 2)
	assert.Len(t, desc.Cells[0].Members, 4)
	assert.Equal(t, "10.1.2.0/24", desc.Blocks[1].Prefix)

	fn := filepath.Join(t.TempDir(), "topo.yaml")
	require.NoError(t, desc.WriteToFile(fn))
	got, err := ReadScenarioDesc(fn, true, nil)
	require.NoError(t, err)
	assert.Equal(t, desc, got)
}

func TestRunReportWrite(t *testing.T) {
	s, err := Build(DefaultLanCellParams(), Options{})
	require.NoError(t, err)
	report, err := s.Run()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, report.WriteToFile(filepath.Join(dir, "report.json")))
	require.NoError(t, s.Capture.WriteToFile(filepath.Join(dir, "capture.yaml"), false))
}
