package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regimesync/internal/dispatch"
	"regimesync/internal/domain/regime"
	"regimesync/internal/sampler"
	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

func newTestLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

// scriptedProducer is an in-process stand-in for the broadcast server
type scriptedProducer struct {
	ln    net.Listener
	conns chan net.Conn
}

func startProducer(t *testing.T) *scriptedProducer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &scriptedProducer{ln: ln, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- conn
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *scriptedProducer) port() int {
	return p.ln.Addr().(*net.TCPAddr).Port
}

func (p *scriptedProducer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("client did not connect")
		return nil
	}
}

func newTestManager(t *testing.T, port int, affinity regime.Affinity) (*Manager, *regime.State, *sampler.PriceSampler, *atomic.Int64) {
	t.Helper()

	log := newTestLogger()
	state := regime.NewState(log)
	ps := sampler.New()
	queue := dispatch.NewQueue(2048, log)
	t.Cleanup(queue.Close)

	m := NewManager(Config{
		Port:        port,
		RetryDelay:  50 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	}, affinity, state, ps, queue, log)

	var applied atomic.Int64
	m.AddObserver(func(regime.Snapshot) { applied.Add(1) })

	t.Cleanup(func() { m.Stop() })
	return m, state, ps, &applied
}

func waitApplied(t *testing.T, applied *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for applied.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d updates applied", applied.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamsUpdatesIntoState(t *testing.T) {
	p := startProducer(t)
	m, state, ps, applied := newTestManager(t, p.port(), regime.AffinityNDX)
	ps.OnInstrumentUpdate(17002.0)

	m.Start()
	conn := p.accept(t)
	defer conn.Close()

	fmt.Fprintf(conn, `{"regime":"GRIND UP","regime_code":1,"spot_ndx":17000.4,"gamma_levels_ndx":[{"strike":17050,"gex":1000}]}`+"\n")
	waitApplied(t, applied, 1)

	snap := state.Snapshot()
	assert.Equal(t, "GRIND UP", snap.Record.Current)
	assert.Equal(t, 1, snap.Record.Code)
	assert.Equal(t, 17000.4, snap.Prices.IndexPrice)
	assert.Equal(t, -2.0, snap.Prices.Spread)
	require.Len(t, snap.Levels, 1)
	assert.Equal(t, 17052.0, snap.Levels[0].Adjusted)
}

func TestReconnectsAfterStreamClosure(t *testing.T) {
	p := startProducer(t)
	m, state, _, applied := newTestManager(t, p.port(), regime.AffinitySPX)

	m.Start()

	first := p.accept(t)
	fmt.Fprintf(first, `{"regime":"GRIND UP","regime_code":1}`+"\n")
	waitApplied(t, applied, 1)
	first.Close()

	// The client must re-enter Connecting and come back within one retry
	// interval once the producer is available again.
	second := p.accept(t)
	defer second.Close()
	fmt.Fprintf(second, `{"regime":"MELT UP","regime_code":2}`+"\n")
	waitApplied(t, applied, 2)

	snap := state.Snapshot()
	assert.Equal(t, "MELT UP", snap.Record.Current)
	assert.Equal(t, "GRIND UP", snap.Record.Previous)
}

func TestRetriesWhileProducerDown(t *testing.T) {
	// Reserve a port with no listener on it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	m, _, _, _ := newTestManager(t, port, regime.AffinityNDX)
	m.Start()

	// Connect refused must keep the loop alive in Connecting, not kill it
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, StateConnecting, m.State())

	m.Stop()
	assert.Equal(t, StateStopped, m.State())
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	p := startProducer(t)
	m, _, _, applied := newTestManager(t, p.port(), regime.AffinityNDX)

	m.Start()
	m.Start()
	m.Start()

	conn := p.accept(t)
	defer conn.Close()

	// Only one loop may be consuming: a second connection attempt would
	// show up as another accept.
	select {
	case <-p.conns:
		t.Fatal("second feed loop connected")
	case <-time.After(200 * time.Millisecond):
	}

	fmt.Fprintf(conn, `{"regime":"X","regime_code":0}`+"\n")
	waitApplied(t, applied, 1)
}

func TestStopIsIdempotentAndBounded(t *testing.T) {
	p := startProducer(t)
	m, _, _, _ := newTestManager(t, p.port(), regime.AffinityNDX)

	m.Start()
	p.accept(t)

	start := time.Now()
	assert.NoError(t, m.Stop())
	assert.NoError(t, m.Stop())
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, StateStopped, m.State())
}

func TestStopReportsTimeoutWhenReadLoopIsWedged(t *testing.T) {
	p := startProducer(t)

	log := newTestLogger()
	state := regime.NewState(log)
	ps := sampler.New()
	queue := dispatch.NewQueue(1, log)
	t.Cleanup(queue.Close)

	m := NewManager(Config{
		Port:        p.port(),
		RetryDelay:  50 * time.Millisecond,
		StopTimeout: 100 * time.Millisecond,
	}, regime.AffinityNDX, state, ps, queue, log)

	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	var entered atomic.Int64
	m.AddObserver(func(regime.Snapshot) {
		entered.Add(1)
		<-release
	})

	m.Start()
	conn := p.accept(t)
	defer conn.Close()

	// Saturate the dispatch queue so the read loop blocks posting the next
	// update and cannot notice the stop signal within the bounded wait.
	for i := 0; i < 8; i++ {
		fmt.Fprintf(conn, `{"regime":"GRIND UP","regime_code":1}`+"\n")
	}
	deadline := time.Now().Add(5 * time.Second)
	for entered.Load() == 0 || queue.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dispatch queue never filled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	assert.ErrorIs(t, m.Stop(), errors.ErrFeedStopTimeout)

	// Once the backlog drains the loop exits; a repeat Stop is a clean no-op.
	unblock()
	assert.NoError(t, m.Stop())
}

func TestRapidLinesMatchApplyingLastLineDirectly(t *testing.T) {
	p := startProducer(t)
	m, state, ps, applied := newTestManager(t, p.port(), regime.AffinityNDX)
	ps.OnInstrumentUpdate(16990)

	m.Start()
	conn := p.accept(t)
	defer conn.Close()

	// Concurrent snapshot reader: no snapshot may ever pair levels with a
	// spread they were not computed from.
	stopReader := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stopReader:
				return
			default:
			}
			snap := state.Snapshot()
			for _, lvl := range snap.Levels {
				if lvl.Adjusted != lvl.Strike-snap.Prices.Spread {
					t.Errorf("torn snapshot: strike %v adjusted %v spread %v",
						lvl.Strike, lvl.Adjusted, snap.Prices.Spread)
					return
				}
			}
		}
	}()

	const n = 1000
	for i := 1; i <= n; i++ {
		fmt.Fprintf(conn, `{"regime":"GRIND UP","regime_code":1,"spot_ndx":%d,"gamma_levels_ndx":[{"strike":%d,"gex":%d}]}`+"\n",
			17000+i, 17100+i, 100*i)
	}
	waitApplied(t, applied, n)

	close(stopReader)
	<-readerDone

	// Final state must equal applying only the last line to a fresh state
	expected := regime.NewState(newTestLogger())
	require.NoError(t, expected.Apply(regime.Update{
		Regime:    "GRIND UP",
		Code:      1,
		IndexSpot: 17000 + n,
		Levels:    []regime.RawLevel{{Strike: 17100 + n, GEX: 100 * n}},
	}, 16990, time.Now()))

	got := state.Snapshot()
	want := expected.Snapshot()
	assert.Equal(t, want.Record.Current, got.Record.Current)
	assert.Equal(t, want.Record.Code, got.Record.Code)
	assert.Equal(t, want.Prices, got.Prices)
	assert.Equal(t, want.Levels, got.Levels)
}
