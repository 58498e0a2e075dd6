package walkerd

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// DataChecker is the polling hook of an asynchronous collector. DataCheck runs
// on the collector's worker goroutine once per keep-alive tick; a concrete
// device overrides it to poll its hardware and call AddDataPoint with whatever
// arrived. A nil checker keeps the worker ticking without collecting anything.
type DataChecker interface {
	DataCheck()
}

// DefaultKeepAliveInterval is the keep-alive tick period used when a
// collector is constructed with a non-positive interval.
const DefaultKeepAliveInterval = 10 * time.Millisecond

type asyncCommand struct {
	kind  commandKind
	reply chan bool // nil for fire-and-forget requests
}

type commandKind int

const (
	cmdStartRecording commandKind = iota
)

// AsyncCollector is a DataCollector whose device polling runs on a dedicated
// worker goroutine, driven by a recurring keep-alive timer. Lifecycle requests
// reach the worker as messages on a command channel; the worker is the only
// goroutine that ever fires ticks, so ticks never run concurrently.
type AsyncCollector struct {
	AnyCollector

	// KeepDataWorkerAliveInterval is the period between keep-alive ticks.
	KeepDataWorkerAliveInterval time.Duration

	// IgnoreTooSlowWarning suppresses the warning emitted when one DataCheck
	// call takes longer than the keep-alive interval.
	IgnoreTooSlowWarning bool

	checker DataChecker

	workerLock    sync.Mutex // guards the worker lifecycle fields below
	workerRunning bool
	commands      chan asyncCommand
	workerDone    sync.WaitGroup

	tooSlowTicks atomic.Int64
}

// NewAsyncCollector returns an asynchronous collector. The worker goroutine is
// spawned lazily on the first recording start, not here.
func NewAsyncCollector(name string, channelCount int, interval time.Duration,
	hooks CollectorHooks, checker DataChecker) *AsyncCollector {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	ac := &AsyncCollector{
		KeepDataWorkerAliveInterval: interval,
		checker:                     checker,
	}
	ac.initCollector(name, channelCount, hooks)
	return ac
}

// StartRecordingAsync arms the worker goroutine (spawning it if needed) and
// requests a recording start, returning immediately. The caller observes
// IsStreamingData / HasFailedToStartDataStreaming to learn when the request
// has taken effect.
func (ac *AsyncCollector) StartRecordingAsync() {
	ac.submit(asyncCommand{kind: cmdStartRecording})
}

// StartRecording is the synchronous façade over StartRecordingAsync: it
// blocks the caller until the worker has started streaming and recording, or
// has failed to. This gives async collectors the same blocking contract that
// synchronous DataCollector callers expect.
func (ac *AsyncCollector) StartRecording() bool {
	reply := make(chan bool, 1)
	ac.submit(asyncCommand{kind: cmdStartRecording, reply: reply})
	return <-reply
}

// StopRecording signals the worker to stop, blocks until it has quiesced, and
// leaves the collector ready for a future restart. It is a no-op if the
// worker is not running, so it is safe on any teardown path.
func (ac *AsyncCollector) StopRecording() bool {
	ac.StopDataCollectorWorkers()
	return true
}

// StopDataCollectorWorkers cancels the keep-alive timer, stops streaming, and
// joins the worker goroutine. No tick runs after it returns. It is idempotent
// and must be called before tearing down any state a DataCheck might touch.
func (ac *AsyncCollector) StopDataCollectorWorkers() {
	ac.workerLock.Lock()
	defer ac.workerLock.Unlock()
	if !ac.workerRunning {
		return
	}
	close(ac.commands)
	ac.workerDone.Wait()
	ac.workerRunning = false
}

// TooSlowTickCount returns how many keep-alive ticks have overrun the
// interval so far. The count is advisory, exactly like the warning itself.
func (ac *AsyncCollector) TooSlowTickCount() int {
	return int(ac.tooSlowTicks.Load())
}

// submit hands one command to the worker, spawning the worker first if none
// is running. Holding workerLock across the send keeps the command channel
// from being closed under us by a concurrent stop.
func (ac *AsyncCollector) submit(cmd asyncCommand) {
	ac.workerLock.Lock()
	if !ac.workerRunning {
		ac.commands = make(chan asyncCommand, 4)
		ac.workerRunning = true
		ac.workerDone.Add(1)
		go ac.runWorker(ac.commands)
	}
	ac.commands <- cmd
	ac.workerLock.Unlock()
}

// runWorker is the dedicated worker goroutine: a single-threaded loop over
// lifecycle commands and keep-alive ticks. It owns the timer, so a pending
// tick is either handled here or discarded here, never dropped mid-flight.
func (ac *AsyncCollector) runWorker(commands <-chan asyncCommand) {
	defer ac.workerDone.Done()

	timer := time.NewTimer(ac.KeepDataWorkerAliveInterval)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case cmd, ok := <-commands:
			if !ok {
				// Stop request. Discard any pending tick, then cease
				// streaming so the device hooks see a clean shutdown.
				if !timer.Stop() && armed {
					<-timer.C
				}
				ac.AnyCollector.StopRecording()
				ac.AnyCollector.StopDataStreaming()
				return
			}
			switch cmd.kind {
			case cmdStartRecording:
				started := ac.AnyCollector.StartRecording()
				if started && !armed {
					ac.startKeepDataWorkerAlive(timer)
					armed = true
				}
				if cmd.reply != nil {
					cmd.reply <- started
				}
			}

		case <-timer.C:
			ac.keepDataWorkerAlive(timer)
		}
	}
}

// startKeepDataWorkerAlive schedules the first keep-alive tick one interval
// from now.
func (ac *AsyncCollector) startKeepDataWorkerAlive(timer *time.Timer) {
	timer.Reset(ac.KeepDataWorkerAliveInterval)
}

// keepDataWorkerAlive is the recurring tick: run the device poll, complain if
// it overran the interval, and schedule the next tick one interval from now.
// Rescheduling from "now" keeps a slow check from compounding delay beyond a
// single interval's worth of jitter.
func (ac *AsyncCollector) keepDataWorkerAlive(timer *time.Timer) {
	start := time.Now()
	ac.runDataCheck()
	elapsed := time.Since(start)
	if elapsed > ac.KeepDataWorkerAliveInterval && !ac.IgnoreTooSlowWarning {
		ac.tooSlowTicks.Add(1)
		ProblemLogger.Printf("%s: data check took %v, longer than the %v keep-alive interval",
			ac.Name(), elapsed, ac.KeepDataWorkerAliveInterval)
	}
	timer.Reset(ac.KeepDataWorkerAliveInterval)
}

// runDataCheck invokes the polling hook, converting a panic into a logged
// problem so one bad poll cannot kill the worker or the process.
func (ac *AsyncCollector) runDataCheck() {
	defer func() {
		if r := recover(); r != nil {
			ProblemLogger.Printf("%s: data check panicked: %s", ac.Name(), spew.Sdump(r))
		}
	}()
	if ac.checker != nil {
		ac.checker.DataCheck()
	}
}
