package trialdb

import "time"

// The composite types used for messages to the ClickHouse database.

// SessionMessage is the information for the sessions table: one row per
// walkerd process that archives anything.
type SessionMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	Start     time.Time
	End       time.Time
}

// TrialMessage is the information required to make an entry in the trials
// table: one row per completed trial per device.
type TrialMessage struct {
	ID         string
	SessionID  string
	DeviceID   int
	DeviceName string
	Nchannels  int
	Nsamples   int
	Start      time.Time
	End        time.Time
}

// SampleMessage carries one batch of trial samples for the samples table.
type SampleMessage struct {
	TrialID  string
	Offsets  []float64 // seconds since trial start
	Channels [][]float64
}
