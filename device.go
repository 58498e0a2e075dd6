package walkerd

import "sync"

// ConnectionState is used to indicate the connected/disconnected state of a device
type ConnectionState int

// Names for the possible values of ConnectionState
const (
	Disconnected ConnectionState = iota // Device has no open connection
	Connecting                          // Device is in transition to Connected
	Connected                           // Device connection is open
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	}
	return "Unknown"
}

// Device is the capability surface the orchestrator drives. Concrete hardware
// drivers implement it; the core only ever sees this interface.
type Device interface {
	Name() string
	Connect() bool
	Disconnect() bool
	Connected() bool
	DataCollector() DataCollector
}

// deviceConnection holds the connection state machine shared by the concrete
// devices in this package. Hardware drivers embed it and call setState from
// their own Connect/Disconnect handlers.
type deviceConnection struct {
	state     ConnectionState
	stateLock sync.Mutex
}

func (dc *deviceConnection) Connected() bool {
	dc.stateLock.Lock()
	defer dc.stateLock.Unlock()
	return dc.state == Connected
}

func (dc *deviceConnection) setState(s ConnectionState) {
	dc.stateLock.Lock()
	dc.state = s
	dc.stateLock.Unlock()
}
