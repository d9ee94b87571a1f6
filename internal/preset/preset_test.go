package preset

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sacngen/internal/dmx"
	"sacngen/internal/logger"
	"sacngen/internal/schedule"
	"sacngen/internal/transmit"
	"sacngen/internal/wave"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	layout *wave.Layout
	clock  *schedule.ManualClock
	rec    *transmit.Recorder
	runner *Runner
}

func newFixture(t *testing.T, duration, dwell time.Duration) *fixture {
	t.Helper()
	l := wave.DefaultLayout()
	clock := schedule.NewManualClock(epoch)
	sched, err := schedule.New(schedule.DefaultInterval, schedule.WithClock(clock))
	require.NoError(t, err)
	rec := transmit.NewRecorder(nil)
	return &fixture{
		layout: l,
		clock:  clock,
		rec:    rec,
		runner: NewRunner(logger.Nop(), NewTable(l, duration, dwell), sched, rec).WithSeed(7),
	}
}

func TestTableLookup(t *testing.T) {
	table := NewTable(wave.DefaultLayout(), 20*time.Second, 5*time.Second)

	list := table.List()
	require.Len(t, list, 8)
	for i, p := range list {
		assert.Equal(t, ID(i+1), p.ID)
		assert.NotEmpty(t, p.Universes)
		if p.Stepped() {
			assert.Equal(t, 5*time.Second, p.Dwell)
		} else {
			assert.Equal(t, 20*time.Second, p.Duration)
		}
	}

	_, err := table.Lookup(9)
	var uerr *UnknownPresetError
	assert.True(t, errors.As(err, &uerr))
}

func TestMovingChannelsPreset(t *testing.T) {
	f := newFixture(t, 2*time.Second, time.Second)

	st, err := f.runner.Run(context.Background(), MovingChannels, netip.Addr{})
	require.NoError(t, err)

	packets := f.rec.Packets()
	want := int(2 * time.Second / schedule.DefaultInterval)
	assert.InDelta(t, want, len(packets), 1)
	assert.Equal(t, len(packets), st.Tick)

	for i, p := range packets {
		require.Equal(t, transmit.OpMulticast, p.Op)
		require.Equal(t, dmx.Universe(1), p.Universe)
		require.Len(t, p.Buf, dmx.BufferLen)

		elapsed := time.Duration(i) * schedule.DefaultInterval
		if diff := cmp.Diff(wave.Moving(f.layout, elapsed, dmx.MaxChannels), p.Buf); diff != "" {
			t.Fatalf("packet %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	assert.NotEqual(t, packets[0].Buf[1], packets[0].Buf[20], "channels are phase shifted")
	assert.NotEqual(t, packets[0].Buf, packets[10].Buf, "levels move over time")
}

func TestRapidChangesPreset(t *testing.T) {
	f := newFixture(t, time.Second, time.Second)
	_, err := f.runner.Run(context.Background(), RapidChanges, netip.Addr{})
	require.NoError(t, err)

	for n, p := range f.rec.Packets() {
		want := wave.Square(f.layout, n)
		require.Equal(t, want, p.Buf[1], "packet %d", n)
		require.Equal(t, want, p.Buf[dmx.MaxChannels], "packet %d", n)
	}
}

func TestHighDataRateSyncPreset(t *testing.T) {
	f := newFixture(t, 330*time.Millisecond, time.Second)
	st, err := f.runner.Run(context.Background(), HighDataRateSync, netip.Addr{})
	require.NoError(t, err)

	packets := f.rec.Packets()
	perTick := HighDataRateUniverses + 1
	require.Len(t, packets, st.Tick*perTick)

	for tick := 0; tick < st.Tick; tick++ {
		batch := packets[tick*perTick : (tick+1)*perTick]
		for i := 0; i < HighDataRateUniverses; i++ {
			assert.Equal(t, transmit.OpMulticast, batch[i].Op)
			assert.Equal(t, dmx.Universe(i+1), batch[i].Universe, "universes go out in order")
			assert.Equal(t, SyncUniverse, batch[i].Sync)
		}
		last := batch[HighDataRateUniverses]
		assert.Equal(t, transmit.OpSync, last.Op)
		assert.Equal(t, SyncUniverse, last.Sync)
	}

	first, second := packets[0], packets[perTick]
	assert.Equal(t, byte(varySeedLevel), first.Buf[1])
	for a := 1; a < len(second.Buf); a++ {
		d := int(second.Buf[a]) - int(first.Buf[a])
		require.LessOrEqual(t, d, f.layout.VariationDelta)
		require.GreaterOrEqual(t, d, -f.layout.VariationDelta)
	}
	assert.NotEqual(t, packets[perTick].Buf, packets[perTick+1].Buf, "universes vary independently")
}

func TestHighDataRateReproducibleWithSeed(t *testing.T) {
	a := newFixture(t, 200*time.Millisecond, time.Second)
	b := newFixture(t, 200*time.Millisecond, time.Second)
	_, err := a.runner.Run(context.Background(), HighDataRate, netip.Addr{})
	require.NoError(t, err)
	_, err = b.runner.Run(context.Background(), HighDataRate, netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, a.rec.Packets(), b.rec.Packets())
}

func TestUnicastPresetNeedsDestination(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, time.Second)

	_, err := f.runner.Run(context.Background(), TwoUniverseUnicast, netip.Addr{})
	require.ErrorIs(t, err, ErrDestinationRequired)
	assert.Empty(t, f.rec.Packets())

	dst := netip.MustParseAddr("192.168.1.20")
	_, err = f.runner.Run(context.Background(), TwoUniverseUnicast, dst)
	require.NoError(t, err)
	packets := f.rec.Packets()
	require.NotEmpty(t, packets)
	for _, p := range packets {
		assert.Equal(t, transmit.OpUnicast, p.Op)
		assert.Equal(t, dst, p.Dst)
	}
	assert.Equal(t, byte(0), packets[0].Buf[1])
	assert.Equal(t, byte(255), packets[1].Buf[1])
}

func TestMulticastPresetIgnoresDestination(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, time.Second)
	_, err := f.runner.Run(context.Background(), TwoUniverse, netip.MustParseAddr("10.0.0.1"))
	require.NoError(t, err)
	for _, p := range f.rec.Packets() {
		assert.Equal(t, transmit.OpMulticast, p.Op)
	}
}

func TestAcceptancePreset(t *testing.T) {
	f := newFixture(t, time.Second, 5*time.Second)

	st, err := f.runner.Run(context.Background(), AcceptanceTest, netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, st.Elapsed)

	packets := f.rec.Packets()
	// 4 steps, re-emitted every second for 5 seconds, on 2 universes.
	require.Len(t, packets, 4*5*2)

	stepOf := func(i int) int { return i/10 + 1 }
	var want [5][]dmx.Buffer
	var prev dmx.Buffer
	for s := 1; s <= 4; s++ {
		back, err := wave.AcceptanceBacklight(f.layout, s, prev)
		require.NoError(t, err)
		front, err := wave.AcceptanceFrontlight(f.layout, s)
		require.NoError(t, err)
		want[s] = []dmx.Buffer{back, front}
		prev = back
	}
	for i, p := range packets {
		s := stepOf(i)
		if p.Universe == f.layout.BacklightUniverse {
			require.Equal(t, want[s][0], p.Buf, "packet %d step %d", i, s)
		} else {
			require.Equal(t, f.layout.FrontlightUniverse, p.Universe)
			require.Equal(t, want[s][1], p.Buf, "packet %d step %d", i, s)
		}
	}
}

func TestPresetStopsOnTransmissionError(t *testing.T) {
	f := newFixture(t, time.Second, time.Second)
	sent := 0
	f.rec.Fail = func(transmit.Packet) error {
		sent++
		if sent > 5 {
			return errors.New("host unreachable")
		}
		return nil
	}

	_, err := f.runner.Run(context.Background(), MovingChannels, netip.Addr{})
	var terr *transmit.TransmissionError
	require.True(t, errors.As(err, &terr))
	assert.Len(t, f.rec.Packets(), 5)
}

func TestPresetCancelled(t *testing.T) {
	f := newFixture(t, time.Hour, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	sent := 0
	f.rec.Fail = func(transmit.Packet) error {
		sent++
		if sent == 4 {
			cancel()
		}
		return nil
	}
	_, err := f.runner.Run(ctx, FullUniverse, netip.Addr{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.rec.Packets(), 4)
}

func TestPresetDropsUniversesThatNeverCarriedData(t *testing.T) {
	f := newFixture(t, time.Second, time.Second)
	sent := 0
	f.rec.Fail = func(transmit.Packet) error {
		sent++
		if sent > 3 {
			return errors.New("no buffer space available")
		}
		return nil
	}

	_, err := f.runner.Run(context.Background(), HighDataRate, netip.Addr{})
	require.Error(t, err)
	assert.Equal(t, []dmx.Universe{1, 2, 3}, f.rec.Registered())
}

func TestPresetKeepsEarlierRegistrations(t *testing.T) {
	f := newFixture(t, time.Second, time.Second)
	require.NoError(t, f.rec.Register(2))
	f.rec.Fail = func(transmit.Packet) error { return errors.New("no buffer space available") }

	_, err := f.runner.Run(context.Background(), TwoUniverse, netip.Addr{})
	require.Error(t, err)
	assert.Equal(t, []dmx.Universe{2}, f.rec.Registered())
}
