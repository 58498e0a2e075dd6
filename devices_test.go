package walkerd

import (
	"errors"
	"testing"
	"time"
)

// burstDevice is an asynchronous test device that emits a fixed number of
// samples, one per keep-alive tick, then goes quiet.
type burstDevice struct {
	deviceConnection
	name      string
	collector *AsyncCollector
	limit     int
	emitted   int // touched only from the worker goroutine
}

func newBurstDevice(name string, limit int) *burstDevice {
	d := &burstDevice{name: name, limit: limit}
	d.collector = NewAsyncCollector(name, 1, time.Millisecond, d, d)
	return d
}

func (d *burstDevice) Name() string                 { return d.name }
func (d *burstDevice) DataCollector() DataCollector { return d.collector }

func (d *burstDevice) Connect() bool {
	d.setState(Connected)
	return true
}

func (d *burstDevice) Disconnect() bool {
	d.collector.StopDataCollectorWorkers()
	d.setState(Disconnected)
	return true
}

func (d *burstDevice) HandleStartDataStreaming() error {
	d.emitted = 0
	return nil
}

func (d *burstDevice) HandleStopDataStreaming() error { return nil }

func (d *burstDevice) DataCheck() {
	if d.emitted >= d.limit {
		return
	}
	d.emitted++
	t := d.collector.SinceStreamingStart()
	d.collector.AddDataPoint(DataPoint{Offset: t, Channels: []float64{float64(d.emitted)}})
}

func TestAddRemoveDevices(t *testing.T) {
	devs := NewDevices()
	if devs.Size() != 0 {
		t.Errorf("new Devices has size %d, want 0", devs.Size())
	}

	id0 := devs.Add(NewRampDevice("ramp0", 1))
	id1 := devs.Add(NewRampDevice("ramp1", 2))
	if id0 == id1 {
		t.Errorf("Add returned the same id twice: %d", id0)
	}
	if devs.Size() != 2 {
		t.Errorf("Size() = %d after 2 adds, want 2", devs.Size())
	}

	if _, err := devs.GetDevice(id0); err != nil {
		t.Errorf("GetDevice(%d) failed: %v", id0, err)
	}
	if _, err := devs.GetDataCollector(id1); err != nil {
		t.Errorf("GetDataCollector(%d) failed: %v", id1, err)
	}

	if err := devs.Remove(id0); err != nil {
		t.Errorf("Remove(%d) failed: %v", id0, err)
	}
	if devs.Size() != 1 {
		t.Errorf("Size() = %d after remove, want 1", devs.Size())
	}
	if _, err := devs.GetDevice(id0); err == nil {
		t.Errorf("GetDevice(%d) succeeded after removal", id0)
	}
	if _, err := devs.GetDataCollector(id0); err == nil {
		t.Errorf("GetDataCollector(%d) succeeded after removal; maps must stay in lockstep", id0)
	}

	// Ids are never reused.
	id2 := devs.Add(NewRampDevice("ramp2", 1))
	if id2 == id0 || id2 == id1 {
		t.Errorf("Add reused id %d", id2)
	}
}

func TestLookupUnknownID(t *testing.T) {
	devs := NewDevices()
	var nfe *NotFoundError
	if _, err := devs.GetDevice(42); !errors.As(err, &nfe) {
		t.Errorf("GetDevice(42) error = %v, want a NotFoundError", err)
	}
	if _, err := devs.GetDataCollector(42); !errors.As(err, &nfe) {
		t.Errorf("GetDataCollector(42) error = %v, want a NotFoundError", err)
	}
	if err := devs.Remove(42); !errors.As(err, &nfe) {
		t.Errorf("Remove(42) error = %v, want a NotFoundError", err)
	}
}

func TestConnectAggregatesFailures(t *testing.T) {
	devs := NewDevices()
	good := NewRampDevice("good", 1)
	bad := NewRampDevice("bad", 1)
	bad.FailConnect = true
	devs.Add(good)
	devs.Add(bad)

	if devs.Connect() {
		t.Error("Connect() = true although one device failed")
	}
	if devs.IsConnected() {
		t.Error("IsConnected() = true after a partial connect")
	}
	// The failing sibling did not stop the good device from connecting.
	if !good.Connected() {
		t.Error("good device not connected; a failing sibling must not abort the fan-out")
	}

	bad.FailConnect = false
	if !devs.Connect() {
		t.Error("Connect() = false although every device can now connect")
	}
	if !devs.IsConnected() {
		t.Error("IsConnected() = false after a full connect")
	}
}

func TestRecordingStartTimestampIsShared(t *testing.T) {
	devs := NewDevices()
	d0 := NewRampDevice("ramp0", 1)
	d1 := NewRampDevice("ramp1", 1)
	devs.Add(d0)
	devs.Add(d1)
	if !devs.Connect() {
		t.Fatal("Connect failed")
	}
	if !devs.StartRecording() {
		t.Fatal("StartRecording failed")
	}
	defer devs.StopRecording()

	t0 := d0.collector.TrialData().StartingTime
	t1 := d1.collector.TrialData().StartingTime
	if !t0.Equal(t1) {
		t.Errorf("trial starting times differ: %v vs %v; all devices share one recording start", t0, t1)
	}
}

func TestStartRecordingAggregatesFailures(t *testing.T) {
	devs := NewDevices()
	good := NewRampDevice("good", 1)
	bad := NewRampDevice("bad", 1)
	bad.FailStreamStart = true
	devs.Add(good)
	devs.Add(bad)
	devs.Connect()

	if devs.StartRecording() {
		t.Error("StartRecording() = true although one collector failed")
	}
	if devs.IsRecording() {
		t.Error("IsRecording() = true after a partial recording start")
	}
	if !good.collector.IsRecording() {
		t.Error("good collector not recording; a failing sibling must not abort the fan-out")
	}
	if !bad.collector.HasFailedToStartDataStreaming() {
		t.Error("failing collector's sticky flag not set")
	}
}

// TestFullSession runs the whole lifecycle over a mixed collection: one
// asynchronous device and two synchronous ones, five samples each.
func TestFullSession(t *testing.T) {
	devs := NewDevices()
	async := newBurstDevice("burst", 5)
	sync1 := NewRampDevice("ramp1", 1)
	sync2 := NewRampDevice("ramp2", 1)

	ids := []int{devs.Add(async), devs.Add(sync1), devs.Add(sync2)}
	for i, id := range ids {
		if id != i {
			t.Errorf("Add returned id %d, want %d", id, i)
		}
	}

	if !devs.Connect() {
		t.Fatal("Connect failed")
	}
	if !devs.StartRecording() {
		t.Fatal("StartRecording failed")
	}

	// Synchronous devices: inject five samples each through their own path.
	sync1.PushSamples(5)
	for i := 0; i < 5; i++ {
		sync2.PushSample()
	}
	// Asynchronous device: its worker delivers exactly five, one per tick.
	waitFor(t, 2*time.Second, func() bool {
		return async.collector.TrialData().NPoints == 5
	}, "the burst device to deliver its 5 samples")

	if !devs.StopRecording() {
		t.Error("StopRecording failed")
	}

	for _, id := range ids {
		c, err := devs.GetDataCollector(id)
		if err != nil {
			t.Fatalf("GetDataCollector(%d): %v", id, err)
		}
		if n := c.TrialData().NPoints; n != 5 {
			t.Errorf("device %d trial series has %d points, want 5", id, n)
		}
	}

	dump := devs.Serialize()
	if len(dump) != 3 {
		t.Errorf("Serialize() has %d entries, want 3", len(dump))
	}
	for _, id := range ids {
		if _, ok := dump[id]; !ok {
			t.Errorf("Serialize() is missing device %d", id)
		}
	}

	devs.Clear()
	if devs.Size() != 0 {
		t.Errorf("Size() = %d after Clear, want 0", devs.Size())
	}
}

func TestPauseResumeFanOut(t *testing.T) {
	devs := NewDevices()
	dev := NewRampDevice("ramp", 1)
	devs.Add(dev)
	devs.Connect()
	devs.StartRecording()

	dev.PushSample()
	devs.PauseRecording()
	if !devs.IsPaused() {
		t.Error("IsPaused() = false after PauseRecording")
	}
	dev.PushSample()
	devs.ResumeRecording()
	dev.PushSample()
	devs.StopRecording()

	c := dev.collector
	if live := c.LiveData().NPoints; live != 3 {
		t.Errorf("live series has %d points, want 3 (pause never gates the live view)", live)
	}
	if trial := c.TrialData().NPoints; trial != 2 {
		t.Errorf("trial series has %d points, want 2 (the paused sample is skipped)", trial)
	}
}
