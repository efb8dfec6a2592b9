package supervisor

import (
	"bytes"
	"io"
	"sync"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/logging"
)

// State is the readiness state of a managed server.
type State int

const (
	StateStarting State = iota
	StateReady
	StateTimedOut
	StateCrashed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateTimedOut:
		return "timed_out"
	case StateCrashed:
		return "crashed"
	case StateCanceled:
		return "canceled"
	}
	return "unknown"
}

type eventKind int

const (
	eventOutput eventKind = iota
	eventTimeout
	eventExit
	eventCancel
)

type event struct {
	kind  eventKind
	chunk []byte // eventOutput
	code  int    // eventExit
	cause error  // eventExit, eventCancel
}

// readiness tracks one startup attempt. Every input (output chunk, timer,
// process exit, cancellation) goes through transition, and the first
// transition out of StateStarting closes resolved.
type readiness struct {
	mu       sync.Mutex
	marker   []byte
	tail     []byte
	state    State
	exitCode int
	cause    error
	resolved chan struct{}
}

func newReadiness(marker string) *readiness {
	return &readiness{
		marker:   []byte(marker),
		resolved: make(chan struct{}),
	}
}

func (r *readiness) transition(ev event) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStarting {
		return r.state
	}

	switch ev.kind {
	case eventOutput:
		if r.scan(ev.chunk) {
			r.state = StateReady
		}
	case eventTimeout:
		r.state = StateTimedOut
	case eventExit:
		r.state = StateCrashed
		r.exitCode = ev.code
		r.cause = ev.cause
	case eventCancel:
		r.state = StateCanceled
		r.cause = ev.cause
	}

	if r.state != StateStarting {
		r.tail = nil
		close(r.resolved)
	}
	return r.state
}

// scan looks for the marker in chunk, including occurrences that straddle
// the previous chunk.
func (r *readiness) scan(chunk []byte) bool {
	if len(r.marker) == 0 {
		return true
	}
	buf := append(r.tail, chunk...)
	if bytes.Contains(buf, r.marker) {
		return true
	}
	keep := len(r.marker) - 1
	if len(buf) < keep {
		keep = len(buf)
	}
	r.tail = append([]byte(nil), buf[len(buf)-keep:]...)
	return false
}

func (r *readiness) current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// err describes a resolved, unsuccessful startup.
func (r *readiness) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateTimedOut:
		return ErrStartupTimeout
	case StateCrashed:
		return &PrematureExitError{Code: r.exitCode, Err: r.cause}
	case StateCanceled:
		return r.cause
	}
	return nil
}

// outputSink receives the child's stdout and stderr. Every chunk goes to the
// log file and then to the readiness state machine.
type outputSink struct {
	mu    sync.Mutex
	log   io.Writer
	ready *readiness
	warn  sync.Once
}

func (s *outputSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.log.Write(p); err != nil {
		s.warn.Do(func() {
			logging.SupervisorWarn("failed to write server log: %v", err)
		})
	}
	s.ready.transition(event{kind: eventOutput, chunk: p})
	return len(p), nil
}
