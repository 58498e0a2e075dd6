package walkerd

import (
	"sync"
	"time"

	"github.com/neurogait/walkerd/internal/eventqueue"
)

// DataCollector is the interface for the per-device streaming/recording state
// machine. The orchestrator depends only on this interface, never on concrete
// device types.
type DataCollector interface {
	Name() string
	ChannelCount() int

	StartDataStreaming() bool
	StopDataStreaming() bool
	StartRecording() bool
	StopRecording() bool
	PauseRecording()
	ResumeRecording()

	IsStreamingData() bool
	IsRecording() bool
	IsPaused() bool
	HasFailedToStartDataStreaming() bool

	AddDataPoint(DataPoint)
	AddDataPoints([]DataPoint)
	SetRecordingStartingTime(time.Time)

	Subscribe() (int, <-chan DataPoint)
	Unsubscribe(int)

	LiveData() TimeSeriesDump
	TrialData() TimeSeriesDump
	Serialize() CollectorDump

	// StopDataCollectorWorkers stops any background machinery the collector
	// owns. It is a no-op for synchronous collectors and must be idempotent.
	StopDataCollectorWorkers()
}

// CollectorHooks is the device-specific behavior a concrete device plugs into
// its collector. The hooks do the actual hardware work; the collector owns all
// bookkeeping around them.
type CollectorHooks interface {
	// HandleStartDataStreaming puts the hardware in streaming mode.
	HandleStartDataStreaming() error
	// HandleStopDataStreaming takes the hardware out of streaming mode.
	HandleStopDataStreaming() error
}

// CollectorDump is the serializable snapshot of one collector's state.
type CollectorDump struct {
	Name         string         `json:"name"`
	ChannelCount int            `json:"channelCount"`
	IsStreaming  bool           `json:"isStreaming"`
	IsRecording  bool           `json:"isRecording"`
	Live         TimeSeriesDump `json:"live"`
	Trial        TimeSeriesDump `json:"trial"`
}

// AnyCollector implements the bookkeeping common to every DataCollector: the
// streaming/recording flags, the live and trial time series, and the new-data
// subscriber registry. Concrete collectors embed it the way concrete sources
// embed a common base elsewhere in this codebase.
//
// The live series receives every sample while streaming. The trial series
// receives samples only while recording and not paused. Recording never
// outlives streaming.
type AnyCollector struct {
	name         string
	channelCount int
	hooks        CollectorHooks

	mu               sync.Mutex // guards the flags and both series
	isStreamingData  bool
	isRecording      bool
	isPaused         bool
	hasFailedToStart bool
	live             *TimeSeries
	trial            *TimeSeries

	subLock     sync.Mutex
	nextSubID   int
	subscribers map[int]*eventqueue.Queue[DataPoint]
}

// NewAnyCollector returns a collector with the given fixed channel count. The
// hooks are invoked for every streaming start/stop; they are typically the
// embedding device itself.
func NewAnyCollector(name string, channelCount int, hooks CollectorHooks) *AnyCollector {
	c := new(AnyCollector)
	c.initCollector(name, channelCount, hooks)
	return c
}

// initCollector fills in the common fields. Embedding types call it from
// their own constructors instead of copying an AnyCollector value around,
// which would copy its mutex.
func (c *AnyCollector) initCollector(name string, channelCount int, hooks CollectorHooks) {
	c.name = name
	c.channelCount = channelCount
	c.hooks = hooks
	c.live = NewTimeSeries()
	c.trial = NewTimeSeries()
	c.subscribers = make(map[int]*eventqueue.Queue[DataPoint])
}

// Name returns the collector's name.
func (c *AnyCollector) Name() string { return c.name }

// ChannelCount returns the number of channels, fixed at construction.
func (c *AnyCollector) ChannelCount() int { return c.channelCount }

// StartDataStreaming begins sending device data to the live series. Starting
// an already-streaming collector is a no-op success. The live series is reset
// before any new point arrives.
func (c *AnyCollector) StartDataStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startDataStreamingLocked()
}

func (c *AnyCollector) startDataStreamingLocked() bool {
	if c.isStreamingData {
		return true
	}
	c.hasFailedToStart = false
	c.live.Clear()
	if err := c.hooks.HandleStartDataStreaming(); err != nil {
		c.hasFailedToStart = true
		ProblemLogger.Printf("%s: failed to start data streaming: %v", c.name, err)
		return false
	}
	c.isStreamingData = true
	return true
}

// StopDataStreaming stops sending data to the live series. Since recording
// cannot outlive streaming, a successful stop also stops any recording.
func (c *AnyCollector) StopDataStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopDataStreamingLocked()
}

func (c *AnyCollector) stopDataStreamingLocked() bool {
	if !c.isStreamingData {
		return true
	}
	if err := c.hooks.HandleStopDataStreaming(); err != nil {
		ProblemLogger.Printf("%s: failed to stop data streaming: %v", c.name, err)
		return false
	}
	c.isStreamingData = false
	c.isRecording = false
	c.isPaused = false
	return true
}

// StartRecording resets the trial series and begins sending data to it.
// Streaming is a prerequisite: if the collector is not streaming yet, the
// streaming start is attempted first and its failure fails the recording.
func (c *AnyCollector) StartRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startRecordingLocked()
}

func (c *AnyCollector) startRecordingLocked() bool {
	if !c.isStreamingData {
		if !c.startDataStreamingLocked() {
			return false
		}
	}
	c.trial.Clear()
	c.isRecording = true
	c.isPaused = false
	return true
}

// StopRecording stops sending data to the trial series. The trial series is
// retained for later retrieval; streaming continues.
func (c *AnyCollector) StopRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRecordingLocked()
	return true
}

func (c *AnyCollector) stopRecordingLocked() {
	c.isRecording = false
	c.isPaused = false
}

// PauseRecording keeps the recording session open but gates trial-series
// writes. The live series keeps filling, and for asynchronous collectors the
// worker keeps ticking, so Resume needs no timer re-synchronization.
func (c *AnyCollector) PauseRecording() {
	c.mu.Lock()
	if c.isRecording {
		c.isPaused = true
	}
	c.mu.Unlock()
}

// ResumeRecording reopens the gate closed by PauseRecording.
func (c *AnyCollector) ResumeRecording() {
	c.mu.Lock()
	c.isPaused = false
	c.mu.Unlock()
}

// IsStreamingData reports whether samples are being captured to the live series.
func (c *AnyCollector) IsStreamingData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isStreamingData
}

// IsRecording reports whether samples are being captured to the trial series.
func (c *AnyCollector) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRecording
}

// IsPaused reports whether trial-series writes are currently gated.
func (c *AnyCollector) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPaused
}

// HasFailedToStartDataStreaming reports the sticky failure flag. It is false
// until a streaming start fails, and cleared only by a fresh start attempt,
// so callers can distinguish "never tried" from "tried and failed".
func (c *AnyCollector) HasFailedToStartDataStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasFailedToStart
}

// SetRecordingStartingTime rewrites the trial series' reference instant. The
// orchestrator uses it to give all devices one synchronized recording start.
func (c *AnyCollector) SetRecordingStartingTime(t time.Time) {
	c.mu.Lock()
	c.trial.SetStartingTime(t)
	c.mu.Unlock()
}

// SinceStreamingStart returns the elapsed time since the live series was last
// reset. Devices use it to stamp the points they produce.
func (c *AnyCollector) SinceStreamingStart() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.live.StartingTime())
}

// AddDataPoint appends one point to the live series (always, while streaming)
// and to the trial series (while recording and not paused), then fires the
// new-data notification exactly once. Points arriving while not streaming are
// dropped.
func (c *AnyCollector) AddDataPoint(p DataPoint) {
	c.mu.Lock()
	if !c.isStreamingData {
		c.mu.Unlock()
		return
	}
	c.live.Append(p)
	if c.isRecording && !c.isPaused {
		c.trial.Append(p)
	}
	c.mu.Unlock()
	c.notify(p)
}

// AddDataPoints appends every point in order, exactly as repeated AddDataPoint
// calls would, but fires the new-data notification only once, with the last
// point. Batch ingestion changes notification frequency, never storage.
func (c *AnyCollector) AddDataPoints(points []DataPoint) {
	if len(points) == 0 {
		return
	}
	c.mu.Lock()
	if !c.isStreamingData {
		c.mu.Unlock()
		return
	}
	for _, p := range points {
		c.live.Append(p)
		if c.isRecording && !c.isPaused {
			c.trial.Append(p)
		}
	}
	c.mu.Unlock()
	c.notify(points[len(points)-1])
}

// Subscribe registers a new-data listener. The returned channel receives
// every notification; an unbounded queue sits between the sampling path and
// the listener, so a slow listener never blocks data collection.
func (c *AnyCollector) Subscribe() (int, <-chan DataPoint) {
	c.subLock.Lock()
	defer c.subLock.Unlock()
	id := c.nextSubID
	c.nextSubID++
	q := eventqueue.New[DataPoint]()
	c.subscribers[id] = q
	return id, q.Out()
}

// Unsubscribe removes a listener. Its channel is closed after any queued
// notifications have been delivered.
func (c *AnyCollector) Unsubscribe(id int) {
	c.subLock.Lock()
	q, ok := c.subscribers[id]
	delete(c.subscribers, id)
	c.subLock.Unlock()
	if ok {
		q.Close()
	}
}

func (c *AnyCollector) notify(p DataPoint) {
	c.subLock.Lock()
	defer c.subLock.Unlock()
	for _, q := range c.subscribers {
		q.Push(p)
	}
}

// LiveData returns a snapshot of the live series.
func (c *AnyCollector) LiveData() TimeSeriesDump {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live.Serialize(c.channelCount)
}

// TrialData returns a snapshot of the trial series.
func (c *AnyCollector) TrialData() TimeSeriesDump {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trial.Serialize(c.channelCount)
}

// Serialize returns the complete snapshot of this collector's state.
func (c *AnyCollector) Serialize() CollectorDump {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CollectorDump{
		Name:         c.name,
		ChannelCount: c.channelCount,
		IsStreaming:  c.isStreamingData,
		IsRecording:  c.isRecording,
		Live:         c.live.Serialize(c.channelCount),
		Trial:        c.trial.Serialize(c.channelCount),
	}
}

// StopDataCollectorWorkers is a no-op for synchronous collectors.
func (c *AnyCollector) StopDataCollectorWorkers() {}
