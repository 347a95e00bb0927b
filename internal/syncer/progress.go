package syncer

import (
	"context"
	"sync"
	"time"
)

// Stage identifies where a sync currently is.
type Stage string

const (
	StageIdle                Stage = "Idle"
	StageGitFetch            Stage = "GitFetch"
	StageDiffCalculation     Stage = "DiffCalculation"
	StageCollectFiles        Stage = "CollectFiles"
	StageQueryLanguages      Stage = "QueryLanguages"
	StageIndexFile           Stage = "IndexFile"
	StageDeleteFile          Stage = "DeleteFile"
	StageVerifyingCollection Stage = "VerifyingCollection"
	StageHeartbeat           Stage = "Heartbeat"
	StageCompleted           Stage = "Completed"
	StageError               Stage = "Error"
)

// Event is one progress record. Current/Total are only meaningful during
// IndexFile and DeleteFile.
type Event struct {
	Stage       Stage
	Message     string
	CurrentFile string
	Current     int
	Total       int
	FilesPerSec float64
	Time        time.Time
}

// SimpleStatus is the snapshot view for UIs that poll instead of consuming
// the event stream. FinalElapsedSeconds is stamped once at the terminal
// event so live timers can stop.
type SimpleStatus struct {
	IsRunning           bool
	IsComplete          bool
	IsSuccess           bool
	StartedAt           time.Time
	LastProgressTime    time.Time
	FinalElapsedSeconds float64
	FinalMessage        string
	LastEvent           Event
}

// Reporter carries progress from one orchestration to observers. It emits
// one event per stage transition plus periodic counter events, a heartbeat
// when nothing else has fired for the heartbeat interval, and a watchdog
// that cancels the sync when no event at all has fired for the watchdog
// interval. The watchdog fires at most once.
type Reporter struct {
	events    chan Event
	heartbeat time.Duration
	watchdog  time.Duration

	mu     sync.Mutex
	status SimpleStatus

	// lastProgress tracks real work, excluding heartbeats, so an idle
	// sync cannot keep its own watchdog quiet.
	lastProgress  time.Time
	watchdogFired bool
	cancel        context.CancelFunc

	stop     chan struct{}
	loopDone chan struct{}
	finished bool
}

// NewReporter creates a reporter with a buffered event stream. A zero
// heartbeat or watchdog disables the respective timer.
func NewReporter(heartbeat, watchdog time.Duration) *Reporter {
	return &Reporter{
		events:    make(chan Event, 64),
		heartbeat: heartbeat,
		watchdog:  watchdog,
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// Events is the stream observers consume. It is closed at the terminal
// event.
func (r *Reporter) Events() <-chan Event { return r.events }

// Start stamps the sync start time and begins the heartbeat and watchdog
// loop. cancel is invoked when the watchdog fires.
func (r *Reporter) Start(cancel context.CancelFunc) {
	now := time.Now()
	r.mu.Lock()
	r.cancel = cancel
	r.status.IsRunning = true
	r.status.StartedAt = now
	r.status.LastProgressTime = now
	r.lastProgress = now
	r.mu.Unlock()
	go r.loop()
}

// Emit publishes an event. A slow observer never blocks the sync: when the
// buffer is full the event is dropped from the stream but still reflected
// in the snapshot.
func (r *Reporter) Emit(e Event) {
	e.Time = time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.status.LastProgressTime = e.Time
	r.status.LastEvent = e
	if e.Stage != StageHeartbeat {
		r.lastProgress = e.Time
	}
	// Send while holding the lock. Finish marks finished under the same
	// lock before closing the channel, so no send can race the close.
	select {
	case r.events <- e:
	default:
	}
}

// Finish emits the terminal Completed or Error event, stamps the final
// elapsed time, closes the stream, and stops the timers.
func (r *Reporter) Finish(success bool, message string) {
	now := time.Now()
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.status.IsRunning = false
	r.status.IsComplete = true
	r.status.IsSuccess = success
	r.status.FinalMessage = message
	r.status.FinalElapsedSeconds = now.Sub(r.status.StartedAt).Seconds()
	stage := StageCompleted
	if !success {
		stage = StageError
	}
	e := Event{Stage: stage, Message: message, Time: now}
	r.status.LastEvent = e
	select {
	case r.events <- e:
	default:
	}
	r.mu.Unlock()

	// Join the timer loop before closing the stream. Its heartbeats go
	// through Emit, which is a no-op once finished is set, so nothing can
	// send after this point.
	close(r.stop)
	<-r.loopDone
	close(r.events)
}

// Status returns the current snapshot.
func (r *Reporter) Status() SimpleStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// WatchdogFired reports whether the watchdog cancelled the sync.
func (r *Reporter) WatchdogFired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watchdogFired
}

func (r *Reporter) loop() {
	defer close(r.loopDone)

	tick := r.heartbeat
	if tick <= 0 {
		if r.watchdog <= 0 {
			<-r.stop
			return
		}
		tick = r.watchdog / 4
	}
	if tick < 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			if r.finished {
				r.mu.Unlock()
				return
			}
			idle := now.Sub(r.lastProgress)
			fireWatchdog := r.watchdog > 0 && idle > r.watchdog && !r.watchdogFired
			if fireWatchdog {
				r.watchdogFired = true
			}
			sinceAny := now.Sub(r.status.LastProgressTime)
			emitHeartbeat := !fireWatchdog && r.heartbeat > 0 && sinceAny >= r.heartbeat
			cancel := r.cancel
			r.mu.Unlock()

			if fireWatchdog {
				if cancel != nil {
					cancel()
				}
				return
			}
			if emitHeartbeat {
				r.Emit(Event{Stage: StageHeartbeat, Message: "still working"})
			}
		}
	}
}
