package walkerd

import (
	"fmt"
	"math"
	"time"
)

// Simulated devices. They stand in for real sensor hardware in tests, demos,
// and sessions run without any equipment attached: a RampDevice is driven
// synchronously by whoever owns it, a SineDevice polls itself from its
// collector's worker goroutine.

// RampDevice is a synchronous device that produces a repeating integer ramp
// on every channel. Its driver pushes samples explicitly with PushSample, so
// the sampling cadence is whatever the caller makes it.
type RampDevice struct {
	deviceConnection
	name      string
	collector *AnyCollector
	next      float64
	max       float64

	// FailConnect and FailStreamStart make the corresponding operation fail,
	// for exercising aggregate-failure paths.
	FailConnect     bool
	FailStreamStart bool
}

// NewRampDevice returns a ramp device with the given channel count.
func NewRampDevice(name string, channelCount int) *RampDevice {
	d := &RampDevice{name: name, max: 100}
	d.collector = NewAnyCollector(name, channelCount, d)
	return d
}

// Name returns the device name.
func (d *RampDevice) Name() string { return d.name }

// Connect opens the simulated connection.
func (d *RampDevice) Connect() bool {
	if d.FailConnect {
		return false
	}
	d.setState(Connected)
	return true
}

// Disconnect closes the simulated connection.
func (d *RampDevice) Disconnect() bool {
	d.setState(Disconnected)
	return true
}

// DataCollector returns the device's collector.
func (d *RampDevice) DataCollector() DataCollector { return d.collector }

// HandleStartDataStreaming rewinds the ramp. Streaming requires an open
// connection.
func (d *RampDevice) HandleStartDataStreaming() error {
	if d.FailStreamStart {
		return fmt.Errorf("%s: simulated streaming-start failure", d.name)
	}
	if !d.Connected() {
		return fmt.Errorf("%s: not connected", d.name)
	}
	d.next = 0
	return nil
}

// HandleStopDataStreaming is trivial for a simulated device.
func (d *RampDevice) HandleStopDataStreaming() error { return nil }

func (d *RampDevice) nextPoint() DataPoint {
	v := d.next
	d.next++
	if d.next >= d.max {
		d.next = 0
	}
	channels := make([]float64, d.collector.ChannelCount())
	for i := range channels {
		channels[i] = v
	}
	return DataPoint{Offset: d.collector.SinceStreamingStart(), Channels: channels}
}

// PushSample synthesizes the next ramp value and feeds it to the collector.
func (d *RampDevice) PushSample() {
	d.collector.AddDataPoint(d.nextPoint())
}

// PushSamples feeds n consecutive ramp values as one batch, so listeners get
// a single notification.
func (d *RampDevice) PushSamples(n int) {
	points := make([]DataPoint, n)
	for i := range points {
		points[i] = d.nextPoint()
	}
	d.collector.AddDataPoints(points)
}

// SineDevice is an asynchronous device: each keep-alive tick of its
// collector's worker samples a sine wave at the current streaming clock and
// feeds the value to every channel.
type SineDevice struct {
	deviceConnection
	name      string
	collector *AsyncCollector

	Frequency float64 // Hz
	Amplitude float64

	FailConnect     bool
	FailStreamStart bool
}

// NewSineDevice returns a sine device polling itself every interval.
func NewSineDevice(name string, channelCount int, interval time.Duration) *SineDevice {
	d := &SineDevice{name: name, Frequency: 1, Amplitude: 1}
	d.collector = NewAsyncCollector(name, channelCount, interval, d, d)
	return d
}

// Name returns the device name.
func (d *SineDevice) Name() string { return d.name }

// Connect opens the simulated connection.
func (d *SineDevice) Connect() bool {
	if d.FailConnect {
		return false
	}
	d.setState(Connected)
	return true
}

// Disconnect stops the collector's worker before closing the connection, so
// no poll runs against a disconnected device.
func (d *SineDevice) Disconnect() bool {
	d.collector.StopDataCollectorWorkers()
	d.setState(Disconnected)
	return true
}

// DataCollector returns the device's collector.
func (d *SineDevice) DataCollector() DataCollector { return d.collector }

// HandleStartDataStreaming checks the connection; there is no hardware to arm.
func (d *SineDevice) HandleStartDataStreaming() error {
	if d.FailStreamStart {
		return fmt.Errorf("%s: simulated streaming-start failure", d.name)
	}
	if !d.Connected() {
		return fmt.Errorf("%s: not connected", d.name)
	}
	return nil
}

// HandleStopDataStreaming is trivial for a simulated device.
func (d *SineDevice) HandleStopDataStreaming() error { return nil }

// DataCheck runs on the worker goroutine once per keep-alive tick.
func (d *SineDevice) DataCheck() {
	t := d.collector.SinceStreamingStart()
	v := d.Amplitude * math.Sin(2*math.Pi*d.Frequency*t.Seconds())
	channels := make([]float64, d.collector.ChannelCount())
	for i := range channels {
		channels[i] = v
	}
	d.collector.AddDataPoint(DataPoint{Offset: t, Channels: channels})
}
