package netscen

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTiming(t *testing.T) {
	tests := []struct {
		name   string
		server AppWindow
		client AppWindow
		jitter float64
		ok     bool
	}{
		{"reference windows", AppWindow{1, 10}, AppWindow{2, 10}, 0, true},
		{"server stop before start", AppWindow{2, 1}, AppWindow{3, 4}, 0, false},
		{"client before server", AppWindow{1, 10}, AppWindow{0, 10}, 0, false},
		{"client with server", AppWindow{1, 10}, AppWindow{1, 10}, 0, false},
		{"client empty window", AppWindow{1, 10}, AppWindow{5, 5}, 0, false},
		{"client past stop", AppWindow{1, 10}, AppWindow{2, 11}, 0, false},
		{"server past stop", AppWindow{1, 12}, AppWindow{2, 10}, 0, false},
		{"negative start", AppWindow{-1, 10}, AppWindow{2, 10}, 0, false},
		{"jitter overruns window", AppWindow{1, 10}, AppWindow{2, 3}, 1, false},
		{"jitter inside window", AppWindow{1, 10}, AppWindow{2, 10}, 0.5, true},
		{"server stops before clients start", AppWindow{1, 2}, AppWindow{3, 10}, 0, false},
		{"client starts as server stops", AppWindow{1, 3}, AppWindow{3, 10}, 0, false},
		{"client outlives server", AppWindow{1, 9}, AppWindow{2, 10}, 0, false},
		{"client window inside server window", AppWindow{1, 9}, AppWindow{2, 9}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateTiming(tt.server, tt.client, tt.jitter, 1.0, 10.0, DefaultEpsilon)
			if tt.ok {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			assert.True(t, errors.Is(ReportErrs(errs), ErrTiming))
		})
	}

	assert.NotEmpty(t, validateTiming(AppWindow{1, 10}, AppWindow{2, 10}, 0, 0, 10, DefaultEpsilon))
}

func TestScheduleValidateReportsEverything(t *testing.T) {
	sched := TrafficSchedule{Server: AppWindow{2, 1}, Client: AppWindow{0, 10}, Interval: 1}
	err := sched.Validate(10, DefaultEpsilon)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTiming))
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "no server block")
	assert.Contains(t, err.Error(), "no client group")
	assert.Contains(t, err.Error(), "port must be non-zero")
}

func echoSchedule(pt *pairTopology) TrafficSchedule {
	return TrafficSchedule{ServerBlock: pt.planner.Blocks()[2], ServerIndex: 0, Port: 9, Clients: pt.sta1,
		Server: AppWindow{1, 9}, Client: AppWindow{2, 8}, PacketSize: 1024, MaxPackets: 2, Interval: 1}
}

func TestInstallAndRunEcho(t *testing.T) {
	pt, sc, np := routedPair(t, 2)
	ts := CreateTrafficScheduler(sc, np, 10, DefaultEpsilon, nil, nil)

	server, clients, err := ts.Install(echoSchedule(pt))
	require.NoError(t, err)
	assert.Equal(t, "10.1.3.1:9", server.Local.String())
	assert.Equal(t, AppScheduled, server.State)
	require.Len(t, clients, 2)
	assert.Equal(t, "10.1.2.1:49153", clients[0].Local.String())
	assert.Equal(t, "10.1.2.2:49153", clients[1].Local.String())
	assert.Equal(t, 6, sc.Events())
	assert.Equal(t, []*EchoServer{server}, ts.Servers())
	assert.Equal(t, clients, ts.Clients())

	require.NoError(t, sc.Run(10))

	assert.Equal(t, AppStopped, server.State)
	assert.Equal(t, 4, server.Received)
	assert.Equal(t, 4, server.Echoed)
	for _, client := range clients {
		assert.Equal(t, AppStopped, client.State)
		assert.Equal(t, 2, client.Sent)
		assert.Equal(t, 2, client.Replies)
		require.Len(t, client.RTTs, 2)
		assert.Greater(t, client.RTTs[0], 0.0)
		assert.Less(t, client.RTTs[0], 0.1)
	}
	assert.Equal(t, 8, np.Delivered())
}

func TestInstallRejectsServerStoppedBeforeClients(t *testing.T) {
	pt, sc, np := routedPair(t, 1)
	ts := CreateTrafficScheduler(sc, np, 10, DefaultEpsilon, nil, nil)

	sched := echoSchedule(pt)
	sched.Server = AppWindow{1, 2}
	sched.Client = AppWindow{3, 10}
	_, _, err := ts.Install(sched)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTiming))
	assert.Contains(t, err.Error(), "is not before server stop")
	assert.Equal(t, 0, sc.Events())
}

func TestRequestInFlightAtServerStopDrops(t *testing.T) {
	pt, sc, np := routedPair(t, 1)
	ts := CreateTrafficScheduler(sc, np, 10, DefaultEpsilon, nil, nil)

	// the second request leaves at 2.999 and needs more than the 2ms backbone delay to arrive
	sched := echoSchedule(pt)
	sched.Server = AppWindow{1, 3}
	sched.Client = AppWindow{2, 3}
	sched.Interval = 0.999
	_, clients, err := ts.Install(sched)
	require.NoError(t, err)
	require.NoError(t, sc.Run(10))

	assert.Equal(t, 2, clients[0].Sent)
	assert.Equal(t, 1, clients[0].Replies)
	assert.Equal(t, map[string]int{"server-stopped": 1}, np.Dropped())
}

func TestClientStopsSending(t *testing.T) {
	pt, sc, np := routedPair(t, 1)
	ts := CreateTrafficScheduler(sc, np, 10, DefaultEpsilon, nil, nil)

	sched := echoSchedule(pt)
	sched.Client = AppWindow{2, 4.5}
	sched.MaxPackets = 10
	_, clients, err := ts.Install(sched)
	require.NoError(t, err)
	require.NoError(t, sc.Run(10))

	// probes at 2, 3 and 4
	assert.Equal(t, 3, clients[0].Sent)
	assert.Equal(t, 3, clients[0].Replies)
}

func TestInstallRejectsInvalidSchedule(t *testing.T) {
	pt, sc, np := routedPair(t, 1)
	ts := CreateTrafficScheduler(sc, np, 10, DefaultEpsilon, nil, nil)

	sched := echoSchedule(pt)
	sched.Client = AppWindow{0, 10}
	_, _, err := ts.Install(sched)
	assert.True(t, errors.Is(err, ErrTiming))

	sched = echoSchedule(pt)
	sched.ServerIndex = 5
	_, _, err = ts.Install(sched)
	assert.True(t, errors.Is(err, ErrConfiguration))

	assert.Equal(t, 0, sc.Events())
	assert.Empty(t, ts.Servers())
}

func TestFailedInstallLeavesNothingBound(t *testing.T) {
	pt, sc, np := routedPair(t, 2)
	ts := CreateTrafficScheduler(sc, np, 10, DefaultEpsilon, nil, nil)
	sched := echoSchedule(pt)

	// the server port is taken, so no client may be left holding a port
	srvPort := netip.AddrPortFrom(sched.ServerBlock.Address(0), sched.Port)
	_, err := np.Bind(srvPort.Addr(), srvPort.Port(), &sink{})
	require.NoError(t, err)
	_, _, err = ts.Install(sched)
	assert.True(t, errors.Is(err, ErrConfiguration))
	for _, node := range pt.sta1.Nodes {
		addr := pt.stack.Interfaces(node)[0].Addr
		assert.False(t, np.Bound(netip.AddrPortFrom(addr, firstEphemeralPort)))
	}
	np.Unbind(srvPort)

	// the context has already run, so no event can be registered and nothing is bound
	require.NoError(t, sc.Run(10))
	_, _, err = ts.Install(sched)
	assert.True(t, errors.Is(err, ErrContextFinished))
	assert.False(t, np.Bound(srvPort))
	assert.Equal(t, 0, sc.Events())
	assert.Empty(t, ts.Servers())
}

func TestStartJitter(t *testing.T) {
	pt, sc, np := routedPair(t, 2)
	ts := CreateTrafficScheduler(sc, np, 10, DefaultEpsilon, nil, nil)

	sched := echoSchedule(pt)
	sched.StartJitter = 0.5
	_, clients, err := ts.Install(sched)
	require.NoError(t, err)
	for _, client := range clients {
		assert.GreaterOrEqual(t, client.Window.Start, 2.0)
		assert.Less(t, client.Window.Start, 2.5)
	}
}

func TestStartJitterFollowsSeed(t *testing.T) {
	starts := func(seed uint64) []float64 {
		pt, sc, np := routedPair(t, 2)
		ts := CreateTrafficScheduler(sc, np, 10, DefaultEpsilon, nil, nil)
		sched := echoSchedule(pt)
		sched.StartJitter = 0.5
		sched.Seed = seed
		_, clients, err := ts.Install(sched)
		require.NoError(t, err)

		rtn := make([]float64, len(clients))
		for idx, client := range clients {
			rtn[idx] = client.Window.Start
		}
		return rtn
	}

	first := starts(7)
	assert.Equal(t, first, starts(7))
	assert.NotEqual(t, first, starts(8))
}

func TestAppStateString(t *testing.T) {
	assert.Equal(t, "running", AppRunning.String())
	assert.Equal(t, "stopped", AppStopped.String())
}
