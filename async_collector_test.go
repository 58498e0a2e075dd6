package walkerd

import (
	"sync/atomic"
	"testing"
	"time"
)

// pollRig is a minimal asynchronous device for tests: its DataCheck counts
// ticks, optionally dawdles, and feeds one point per tick.
type pollRig struct {
	collector *AsyncCollector
	sleep     time.Duration
	ticks     atomic.Int64
}

func newPollRig(interval, sleep time.Duration) *pollRig {
	r := &pollRig{sleep: sleep}
	r.collector = NewAsyncCollector("pollrig", 1, interval, r, r)
	return r
}

func (r *pollRig) HandleStartDataStreaming() error { return nil }
func (r *pollRig) HandleStopDataStreaming() error  { return nil }

func (r *pollRig) DataCheck() {
	r.ticks.Add(1)
	if r.sleep > 0 {
		time.Sleep(r.sleep)
	}
	t := r.collector.SinceStreamingStart()
	r.collector.AddDataPoint(DataPoint{Offset: t, Channels: []float64{1}})
}

// waitFor polls the condition until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAsyncStartIsBlockingFacade(t *testing.T) {
	rig := newPollRig(2*time.Millisecond, 0)
	c := rig.collector
	if !c.StartRecording() {
		t.Fatal("StartRecording returned false, want true")
	}
	// The blocking façade returns only once the worker reached the state.
	if !c.IsStreamingData() {
		t.Error("IsStreamingData() = false immediately after blocking StartRecording")
	}
	if !c.IsRecording() {
		t.Error("IsRecording() = false immediately after blocking StartRecording")
	}

	waitFor(t, time.Second, func() bool { return c.TrialData().NPoints >= 3 }, "3 polled samples")

	if !c.StopRecording() {
		t.Error("StopRecording returned false, want true")
	}
	if c.IsStreamingData() || c.IsRecording() {
		t.Error("collector still streaming/recording after StopRecording quiesced the worker")
	}

	// No tick may run after the stop returned.
	n := rig.ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if got := rig.ticks.Load(); got != n {
		t.Errorf("ticks advanced from %d to %d after stop; no tick may run after StopDataCollectorWorkers", n, got)
	}
}

func TestAsyncStartNonBlocking(t *testing.T) {
	rig := newPollRig(2*time.Millisecond, 0)
	c := rig.collector
	c.StartRecordingAsync()
	waitFor(t, time.Second, c.IsRecording, "the async start to take effect")
	c.StopRecording()
}

func TestAsyncStartFailure(t *testing.T) {
	dev := NewSineDevice("sine", 1, 2*time.Millisecond)
	c := dev.collector
	// Not connected: the streaming-start hook refuses.
	if c.StartRecording() {
		t.Fatal("StartRecording succeeded on a disconnected device")
	}
	if !c.HasFailedToStartDataStreaming() {
		t.Error("sticky failure flag not set after failed async start")
	}
	c.StopDataCollectorWorkers()

	// Once connected, the same collector starts fine.
	if !dev.Connect() {
		t.Fatal("Connect returned false")
	}
	if !c.StartRecording() {
		t.Error("StartRecording returned false on a connected device")
	}
	if c.HasFailedToStartDataStreaming() {
		t.Error("sticky failure flag survived a successful start")
	}
	c.StopRecording()
}

func TestTooSlowTickWarning(t *testing.T) {
	// Each 12ms check overruns the 4ms interval, so every completed tick
	// must be counted exactly once.
	rig := newPollRig(4*time.Millisecond, 12*time.Millisecond)
	c := rig.collector
	if !c.StartRecording() {
		t.Fatal("StartRecording returned false")
	}
	waitFor(t, 2*time.Second, func() bool { return rig.ticks.Load() >= 3 }, "3 slow ticks")
	c.StopRecording()

	ticks := rig.ticks.Load()
	if got := c.TooSlowTickCount(); int64(got) != ticks {
		t.Errorf("TooSlowTickCount() = %d, want %d (one warning per slow tick)", got, ticks)
	}
	// The slow checks delayed but did not stall the cadence: 3+ ticks
	// completed, which a compounding delay would have prevented.
}

func TestIgnoreTooSlowWarning(t *testing.T) {
	rig := newPollRig(4*time.Millisecond, 12*time.Millisecond)
	c := rig.collector
	c.IgnoreTooSlowWarning = true
	if !c.StartRecording() {
		t.Fatal("StartRecording returned false")
	}
	waitFor(t, 2*time.Second, func() bool { return rig.ticks.Load() >= 2 }, "2 slow ticks")
	c.StopRecording()
	if got := c.TooSlowTickCount(); got != 0 {
		t.Errorf("TooSlowTickCount() = %d with IgnoreTooSlowWarning set, want 0", got)
	}
}

func TestStopWorkersIdempotent(t *testing.T) {
	rig := newPollRig(2*time.Millisecond, 0)
	c := rig.collector

	// Stopping a never-started worker is a no-op.
	c.StopDataCollectorWorkers()
	if !c.StopRecording() {
		t.Error("StopRecording on an idle collector returned false, want true")
	}

	if !c.StartRecording() {
		t.Fatal("StartRecording returned false")
	}
	done := make(chan struct{})
	go func() {
		c.StopDataCollectorWorkers()
		c.StopDataCollectorWorkers()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("double StopDataCollectorWorkers deadlocked")
	}

	// And the collector restarts cleanly afterwards.
	if !c.StartRecording() {
		t.Error("StartRecording after a full stop returned false, want true")
	}
	c.StopRecording()
}

func TestDataCheckPanicIsContained(t *testing.T) {
	p := &panicRig{}
	p.collector = NewAsyncCollector("panicrig", 1, 2*time.Millisecond, p, p)
	if !p.collector.StartRecording() {
		t.Fatal("StartRecording returned false")
	}
	waitFor(t, time.Second, func() bool { return p.calls.Load() >= 3 }, "the worker to survive 3 panicking ticks")
	p.collector.StopRecording()
}

type panicRig struct {
	collector *AsyncCollector
	calls     atomic.Int64
}

func (p *panicRig) HandleStartDataStreaming() error { return nil }
func (p *panicRig) HandleStopDataStreaming() error  { return nil }
func (p *panicRig) DataCheck() {
	p.calls.Add(1)
	panic("simulated poll failure")
}
