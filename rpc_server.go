package walkerd

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/neurogait/walkerd/internal/trialdb"
)

// SessionControl is the RPC server that handles configuration and operation
// of the walkerd device collection.
type SessionControl struct {
	devices *Devices
	db      *trialdb.Connection

	sessionID  string
	trialStart time.Time
	roster     map[int]DeviceConfig

	clientUpdates chan<- ClientUpdate
}

// DeviceConfig describes one device to create, by simulated type. Real
// hardware drivers register additional types as they are written.
type DeviceConfig struct {
	Type        string // "sine" or "ramp"
	Name        string
	NumChannels int
	IntervalMS  int // keep-alive interval for asynchronous types
}

// SessionStatus is the status that SessionControl reports to clients.
type SessionStatus struct {
	NumDevices  int
	DeviceNames map[int]string
	IsConnected bool
	IsRecording bool
	IsPaused    bool
}

func makeDevice(config *DeviceConfig) (Device, error) {
	nchan := config.NumChannels
	if nchan <= 0 {
		nchan = 1
	}
	interval := time.Duration(config.IntervalMS) * time.Millisecond
	switch strings.ToUpper(config.Type) {
	case "SINE":
		return NewSineDevice(config.Name, nchan, interval), nil
	case "RAMP":
		return NewRampDevice(config.Name, nchan), nil
	}
	return nil, fmt.Errorf("device type %q is not recognized", config.Type)
}

// AddDevice creates a device from config, adds it to the collection, and
// replies with its id.
func (s *SessionControl) AddDevice(config *DeviceConfig, reply *int) error {
	dev, err := makeDevice(config)
	if err != nil {
		return err
	}
	id := s.devices.Add(dev)
	log.Printf("AddDevice: id=%d type=%s nchan=%d\n", id, config.Type, config.NumChannels)
	s.roster[id] = *config
	s.saveRoster()
	s.broadcastStatus()
	*reply = id
	return nil
}

// RemoveDevice removes the device with the given id from the collection.
func (s *SessionControl) RemoveDevice(id *int, reply *bool) error {
	if err := s.devices.Remove(*id); err != nil {
		return err
	}
	delete(s.roster, *id)
	s.saveRoster()
	s.broadcastStatus()
	*reply = true
	return nil
}

// Connect connects every device, blocking until all are done. The reply is
// true only if every device connected.
func (s *SessionControl) Connect(dummy *string, reply *bool) error {
	log.Printf("Connecting %d devices\n", s.devices.Size())
	*reply = s.devices.Connect()
	s.broadcastStatus()
	return nil
}

// Disconnect disconnects every device, blocking until all are done.
func (s *SessionControl) Disconnect(dummy *string, reply *bool) error {
	log.Printf("Disconnecting %d devices\n", s.devices.Size())
	*reply = s.devices.Disconnect()
	s.broadcastStatus()
	return nil
}

// StartRecording starts recording on every device, blocking until all have
// started.
func (s *SessionControl) StartRecording(dummy *string, reply *bool) error {
	*reply = s.devices.StartRecording()
	if *reply {
		s.trialStart = time.Now()
	}
	s.broadcastStatus()
	return nil
}

// StopRecording stops recording on every device, then archives the completed
// trial to the trial database (a no-op when none is configured).
func (s *SessionControl) StopRecording(dummy *string, reply *bool) error {
	*reply = s.devices.StopRecording()
	s.archiveTrial()
	s.broadcastStatus()
	return nil
}

// PauseRecording gates trial-series writes on every device.
func (s *SessionControl) PauseRecording(dummy *string, reply *bool) error {
	s.devices.PauseRecording()
	s.broadcastStatus()
	*reply = true
	return nil
}

// ResumeRecording reopens the trial-series gate on every device.
func (s *SessionControl) ResumeRecording(dummy *string, reply *bool) error {
	s.devices.ResumeRecording()
	s.broadcastStatus()
	*reply = true
	return nil
}

// Status replies with the current session status.
func (s *SessionControl) Status(dummy *string, reply *SessionStatus) error {
	*reply = s.computeStatus()
	return nil
}

// SerializeData replies with the full per-device snapshot of live and trial
// series.
func (s *SessionControl) SerializeData(dummy *string, reply *DevicesDump) error {
	*reply = s.devices.Serialize()
	return nil
}

// ExportTrial writes the current trial series to NumPy files in the given
// directory and replies with the filenames written.
func (s *SessionControl) ExportTrial(dir *string, reply *[]string) error {
	written, err := ExportTrialNPY(*dir, s.devices.Serialize())
	if err != nil {
		return err
	}
	log.Printf("ExportTrial: wrote %d files to %s\n", len(written), *dir)
	*reply = written
	return nil
}

func (s *SessionControl) computeStatus() SessionStatus {
	status := SessionStatus{
		NumDevices:  s.devices.Size(),
		DeviceNames: make(map[int]string),
		IsConnected: s.devices.IsConnected(),
		IsRecording: s.devices.IsRecording(),
		IsPaused:    s.devices.IsPaused(),
	}
	for _, id := range s.devices.IDs() {
		if dev, err := s.devices.GetDevice(id); err == nil {
			status.DeviceNames[id] = dev.Name()
		}
	}
	return status
}

func (s *SessionControl) broadcastStatus() {
	if s.clientUpdates == nil {
		return
	}
	// Status publishing is best-effort; never stall an RPC on a full channel.
	select {
	case s.clientUpdates <- NewClientUpdate("STATUS", s.computeStatus()):
	default:
	}
}

// archiveTrial stores one trials row plus the sample batches for every device
// in the finished trial.
func (s *SessionControl) archiveTrial() {
	if !s.db.IsConnected() {
		return
	}
	dump := s.devices.Serialize()
	for id, cd := range dump {
		if cd.Trial.NPoints == 0 {
			continue
		}
		msg := &trialdb.TrialMessage{
			ID:         trialdb.NewTrialID(),
			SessionID:  s.sessionID,
			DeviceID:   id,
			DeviceName: cd.Name,
			Nchannels:  cd.ChannelCount,
			Nsamples:   cd.Trial.NPoints,
			Start:      cd.Trial.StartingTime,
			End:        time.Now(),
		}
		s.db.RecordTrial(msg)
		samples := &trialdb.SampleMessage{TrialID: msg.ID}
		for _, p := range cd.Trial.Points {
			samples.Offsets = append(samples.Offsets, p.Offset.Seconds())
			samples.Channels = append(samples.Channels, p.Channels)
		}
		s.db.RecordSamples(samples)
	}
}

// saveRoster persists the device roster through viper so a restarted walkerd
// comes back with the same devices. Best-effort: without a config file the
// roster lives only in memory.
func (s *SessionControl) saveRoster() {
	configs := make([]DeviceConfig, 0, len(s.roster))
	for _, id := range s.devices.IDs() {
		if config, ok := s.roster[id]; ok {
			configs = append(configs, config)
		}
	}
	viper.Set("devices", configs)
	if viper.ConfigFileUsed() != "" {
		if err := viper.WriteConfig(); err != nil {
			ProblemLogger.Printf("could not save device roster: %v", err)
		}
	}
}

// RunRPCServer sets up and runs a permanent JSON-RPC server. The device
// roster stored in the config file is restored before accepting connections.
func RunRPCServer(messageChan chan<- ClientUpdate, portrpc int) {
	sessionControl := new(SessionControl)
	sessionControl.devices = NewDevices()
	sessionControl.roster = make(map[int]DeviceConfig)
	sessionControl.clientUpdates = messageChan
	sessionControl.sessionID = trialdb.NewTrialID()

	// Archive trials if a database is reachable; otherwise run without one.
	abortDB := make(chan struct{})
	if err := trialdb.PingServer(); err == nil {
		hostname, _ := os.Hostname()
		sessionControl.db = trialdb.Start(&trialdb.SessionMessage{
			ID:        sessionControl.sessionID,
			Hostname:  hostname,
			Githash:   Build.Githash,
			Version:   Build.Version,
			GoVersion: runtime.Version(),
			Start:     WalkerdStartTime,
		}, abortDB)
	} else {
		log.Printf("running without a trial database: %v\n", err)
		sessionControl.db = trialdb.Dummy()
	}

	// Load the stored device roster.
	log.Printf("walkerd is using config file %s\n", viper.ConfigFileUsed())
	var configs []DeviceConfig
	if err := viper.UnmarshalKey("devices", &configs); err == nil {
		var id int
		for i := range configs {
			if err := sessionControl.AddDevice(&configs[i], &id); err != nil {
				ProblemLogger.Printf("could not restore device %q: %v", configs[i].Name, err)
			}
		}
	}

	go func() {
		ticker := time.Tick(2 * time.Second)
		for range ticker {
			sessionControl.broadcastStatus()
		}
	}()

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	server.Register(sessionControl)
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		log.Fatal("listen error:", err)
	}
	for {
		if conn, err := listener.Accept(); err != nil {
			log.Fatal("accept error: " + err.Error())
		} else {
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
}
