package walkerd

// Contains the client updater, which publishes JSON-encoded messages giving
// the latest walkerd session state on the status port.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries one message to be published on the status port.
type ClientUpdate struct {
	tag   string
	state interface{}
}

// NewClientUpdate builds an update with the given topic tag and payload.
func NewClientUpdate(tag string, state interface{}) ClientUpdate {
	return ClientUpdate{tag: tag, state: state}
}

// RunClientUpdater forwards messages from its input channel to a ZMQ PUB
// socket, so clients can learn session state changes without polling the RPC
// server. It runs until abort is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) {
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create status PUB socket: %v", err)
		return
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(hostname); err != nil {
		ProblemLogger.Printf("could not bind status PUB socket to %s: %v", hostname, err)
		return
	}

	for {
		select {
		case <-abort:
			return
		case update := <-messages:
			message, err := json.Marshal(update.state)
			if err != nil {
				ProblemLogger.Printf("could not encode %q client update: %v", update.tag, err)
				continue
			}
			if _, err = pubSocket.SendMessage(update.tag, message); err != nil {
				ProblemLogger.Printf("could not publish %q client update: %v", update.tag, err)
			}
			UpdateLogger.Printf("%s %s", update.tag, message)
		}
	}
}
