package trialdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrialIDs(t *testing.T) {
	a := NewTrialID()
	b := NewTrialID()
	assert.Len(t, a, 26, "ULIDs are 26 characters")
	assert.NotEqual(t, a, b, "trial ids must be unique")
}

func TestDummyConnection(t *testing.T) {
	db := Dummy()
	assert.False(t, db.IsConnected())

	// A dummy connection absorbs everything without blocking or panicking.
	db.RecordTrial(&TrialMessage{ID: NewTrialID()})
	db.RecordTrial(nil)
	db.RecordSamples(&SampleMessage{TrialID: "x"})
	db.Disconnect()
}

// TestLiveServer exercises a real ClickHouse server when one is reachable;
// otherwise it is skipped, so the suite passes on machines without one.
func TestLiveServer(t *testing.T) {
	if err := PingServer(); err != nil {
		t.Skipf("no ClickHouse server reachable: %v", err)
	}
	abort := make(chan struct{})
	db := Start(&SessionMessage{
		ID:      NewTrialID(),
		Version: "test",
		Start:   time.Now(),
	}, abort)
	assert.True(t, db.IsConnected())

	db.RecordTrial(&TrialMessage{
		ID:         NewTrialID(),
		SessionID:  db.sessionEntry.ID,
		DeviceName: "testdevice",
		Nchannels:  1,
		Nsamples:   2,
		Start:      time.Now(),
		End:        time.Now(),
	})
	close(abort)
	db.Wait()
}
