// Package trialdb archives completed trials to a ClickHouse database. The
// database is optional equipment: when none is reachable, a dummy connection
// absorbs all messages and the rest of walkerd never notices.
package trialdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
)

const databaseName = "walkerd" // official SQL name of the database

// Connection wraps one ClickHouse connection and the channels that feed it.
// Messages are handled by a single goroutine so inserts never race.
type Connection struct {
	conn         clickhouse.Conn
	err          error
	sessionEntry *SessionMessage
	trialmsg     chan *TrialMessage
	samplemsg    chan *SampleMessage
	sync.WaitGroup
}

// NewTrialID returns a fresh ULID to identify one trial.
func NewTrialID() string {
	return ulid.Make().String()
}

// IsConnected is true when the connection was established and has seen no error.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer checks that a ClickHouse server is reachable with the configured
// credentials.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("trial database is not connected: %v", db.err)
	}
	defer db.conn.Close()
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return nil
}

// Start opens the database connection, logs the session entry, and launches
// the goroutine that handles archive messages until abort closes.
func Start(session *SessionMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.sessionEntry = session
	db.logSession()
	go db.handleConnection(abort)
	return db
}

// Dummy returns a Connection that accepts and discards all messages, for
// running without a database.
func Dummy() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	addr := os.Getenv("WALKERD_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	opt := clickhouse.Options{
		Addr:        []string{addr},
		DialTimeout: 5 * time.Second,
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("WALKERD_DB_USER"),
			Password: os.Getenv("WALKERD_DB_PASSWORD"),
		},
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.trialmsg = make(chan *TrialMessage)
	db.samplemsg = make(chan *SampleMessage)
	return db
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case tmsg := <-db.trialmsg:
			db.handleTrialMessage(tmsg)
		case smsg := <-db.samplemsg:
			db.handleSampleMessage(smsg)
		}
	}
}

// Disconnect closes out the session entry. Safe on a never-connected Connection.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.sessionEntry.End = time.Now()
		db.logSession()
	}
}

// RecordTrial stores one trial row in the DB (if it's open). This call blocks
// until handleConnection accepts the message, which guarantees the trial row
// exists before any corresponding RecordSamples calls land.
func (db *Connection) RecordTrial(msg *TrialMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.trialmsg <- msg
}

// RecordSamples stores one batch of trial samples without blocking the caller.
func (db *Connection) RecordSamples(msg *SampleMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.samplemsg <- msg }()
}

func (db *Connection) logSession() {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	se := db.sessionEntry
	formattedStart := se.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := se.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?)`, nowait,
		se.ID, se.Hostname, se.Githash, se.Version,
		se.GoVersion, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sessions ", err)
		db.err = err
	}
}

func (db *Connection) handleTrialMessage(m *TrialMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	formattedStart := m.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := m.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO trials VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.SessionID, m.DeviceID, m.DeviceName,
		m.Nchannels, m.Nsamples, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into trials ", err)
		db.err = err
	}
}

func (db *Connection) handleSampleMessage(m *SampleMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	for i, offset := range m.Offsets {
		if err := db.conn.AsyncInsert(ctx, `INSERT INTO samples VALUES (?, ?, ?, ?)`, nowait,
			m.TrialID, i, offset, m.Channels[i],
		); err != nil {
			fmt.Println("Error raised on AsyncInsert into samples ", err)
			db.err = err
			return
		}
	}
}
