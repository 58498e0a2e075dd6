package walkerd

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// NotFoundError reports an operation on a device id that is not in the
// collection.
type NotFoundError struct {
	DeviceID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no device with id %d in the collection", e.DeviceID)
}

// DevicesDump is the serialized snapshot of a whole device collection, keyed
// by device id.
type DevicesDump map[int]CollectorDump

// Devices owns a keyed collection of Device handles and their DataCollectors
// and fans lifecycle commands out to all of them. The two maps are kept in
// lockstep: an id present in one is always present in the other.
//
// Fan-out operations drive the devices sequentially in id order, blocking on
// each before moving to the next, and report only an aggregate boolean: true
// means every device succeeded. A failing device never aborts the fan-out
// over its siblings, so callers wanting per-device detail re-query individual
// devices after a false result.
type Devices struct {
	mu         sync.Mutex
	devices    map[int]Device
	collectors map[int]DataCollector
	nextID     int

	isConnected bool
	isRecording bool
	isPaused    bool
}

// NewDevices returns an empty collection.
func NewDevices() *Devices {
	return &Devices{
		devices:    make(map[int]Device),
		collectors: make(map[int]DataCollector),
	}
}

// Add takes ownership of a device, assigns it the next unused id, and stores
// the device together with its data collector. The returned id is how the
// device is addressed from now on. Ids are monotonically assigned and never
// reused.
func (d *Devices) Add(dev Device) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.devices[id] = dev
	d.collectors[id] = dev.DataCollector()
	return id
}

// Remove erases both the device and collector entries for id. The collector's
// background workers are stopped first, so a collector never outlives its
// device.
func (d *Devices) Remove(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collectors[id]
	if !ok {
		return &NotFoundError{DeviceID: id}
	}
	c.StopDataCollectorWorkers()
	delete(d.devices, id)
	delete(d.collectors, id)
	return nil
}

// Size returns the number of devices in the collection.
func (d *Devices) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.devices)
}

// Clear stops every collector's workers and removes all devices.
func (d *Devices) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.collectors {
		c.StopDataCollectorWorkers()
	}
	d.devices = make(map[int]Device)
	d.collectors = make(map[int]DataCollector)
	d.isConnected = false
	d.isRecording = false
	d.isPaused = false
}

// GetDevice returns the device stored under id.
func (d *Devices) GetDevice(id int) (Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return nil, &NotFoundError{DeviceID: id}
	}
	return dev, nil
}

// GetDataCollector returns the data collector stored under id.
func (d *Devices) GetDataCollector(id int) (DataCollector, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collectors[id]
	if !ok {
		return nil, &NotFoundError{DeviceID: id}
	}
	return c, nil
}

// IDs returns the device ids in ascending order, the order every fan-out
// operation uses.
func (d *Devices) IDs() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedIDs()
}

func (d *Devices) sortedIDs() []int {
	ids := make([]int, 0, len(d.devices))
	for id := range d.devices {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Connect connects every device, blocking on each in turn, and returns true
// only if all of them connected. Partial success leaves IsConnected false
// even though some devices are individually connected.
func (d *Devices) Connect() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	allOK := true
	for _, id := range d.sortedIDs() {
		if !d.devices[id].Connect() {
			ProblemLogger.Printf("device %d (%s) failed to connect", id, d.devices[id].Name())
			allOK = false
		}
	}
	d.isConnected = allOK
	return allOK
}

// Disconnect disconnects every device, blocking on each in turn. Recording
// and streaming are shut down first so no collector keeps polling a device
// that is going away.
func (d *Devices) Disconnect() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	allOK := true
	for _, id := range d.sortedIDs() {
		c := d.collectors[id]
		c.StopRecording()
		c.StopDataStreaming()
		c.StopDataCollectorWorkers()
		if !d.devices[id].Disconnect() {
			ProblemLogger.Printf("device %d (%s) failed to disconnect", id, d.devices[id].Name())
			allOK = false
		}
	}
	d.isConnected = false
	d.isRecording = false
	d.isPaused = false
	return allOK
}

// StartRecording starts recording on every collector, blocking on each in
// turn. Once all collectors have reported started, one common "now" is
// applied as the recording-start reference of every trial series, so all
// devices share a synchronized start instant regardless of how long each one
// took to start.
func (d *Devices) StartRecording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	allOK := true
	ids := d.sortedIDs()
	for _, id := range ids {
		if !d.collectors[id].StartRecording() {
			ProblemLogger.Printf("device %d (%s) failed to start recording", id, d.collectors[id].Name())
			allOK = false
		}
	}
	now := time.Now()
	for _, id := range ids {
		d.collectors[id].SetRecordingStartingTime(now)
	}
	d.isRecording = allOK
	d.isPaused = false
	return allOK
}

// StopRecording stops recording on every collector, blocking on each in turn.
// Trial series are retained for retrieval.
func (d *Devices) StopRecording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	allOK := true
	for _, id := range d.sortedIDs() {
		if !d.collectors[id].StopRecording() {
			allOK = false
		}
	}
	if allOK {
		d.isRecording = false
	}
	d.isPaused = false
	return allOK
}

// PauseRecording gates trial-series writes on every collector. Workers keep
// ticking and live series keep filling.
func (d *Devices) PauseRecording() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.sortedIDs() {
		d.collectors[id].PauseRecording()
	}
	d.isPaused = true
}

// ResumeRecording reopens the trial-series gate on every collector.
func (d *Devices) ResumeRecording() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.sortedIDs() {
		d.collectors[id].ResumeRecording()
	}
	d.isPaused = false
}

// IsConnected reports whether the last Connect fan-out succeeded on all devices.
func (d *Devices) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isConnected
}

// IsRecording reports whether the last StartRecording fan-out succeeded on
// all devices and no StopRecording has completed since.
func (d *Devices) IsRecording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isRecording
}

// IsPaused reports whether the collection is in the paused state.
func (d *Devices) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isPaused
}

// Serialize assembles the per-device snapshot map: one CollectorDump per
// device id.
func (d *Devices) Serialize() DevicesDump {
	d.mu.Lock()
	defer d.mu.Unlock()
	dump := make(DevicesDump, len(d.collectors))
	for id, c := range d.collectors {
		dump[id] = c.Serialize()
	}
	return dump
}
