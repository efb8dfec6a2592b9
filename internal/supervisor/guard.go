package supervisor

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/logging"
)

// Guard owns a running server process and its process group. Release stops
// them; callers defer Release right after a successful Acquire so every exit
// path tears the server down.
type Guard struct {
	cmd   *exec.Cmd
	pid   int
	grace time.Duration

	output io.Closer // read end of the output pipe
	log    io.Closer

	done    chan struct{} // closed once the child is reaped
	drained chan struct{} // closed once the output pipe hits EOF

	once       sync.Once
	releaseErr error
}

func newGuard(cmd *exec.Cmd, output, log io.Closer, grace time.Duration) *Guard {
	return &Guard{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		grace:   grace,
		output:  output,
		log:     log,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// exited is called once by the goroutine waiting on the process.
func (g *Guard) exited(err error) {
	logging.SupervisorDebug("api server (pid %d) exited: %v", g.pid, err)
	close(g.done)
}

// Release terminates the server: SIGTERM to the process group, then SIGKILL
// if the child is still alive after the grace period. Whatever is left in
// the group once the child is reaped is killed too, including when the
// child had already exited on its own. Release returns once the child is
// reaped and its output is flushed to the log. It is idempotent and never
// panics.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	g.once.Do(func() {
		g.releaseErr = g.release()
	})
	return g.releaseErr
}

func (g *Guard) release() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while stopping api server: %v", r)
		}
	}()

	if err := g.stopChild(); err != nil {
		return err
	}

	if err := sweepProcessGroup(g.pid); err != nil && !isProcessGone(err) {
		logging.SupervisorWarn("failed to kill leftover processes of group %d: %v", g.pid, err)
	}
	g.closeOutput()
	return nil
}

// stopChild returns once the child has been reaped.
func (g *Guard) stopChild() error {
	select {
	case <-g.done:
		logging.SupervisorDebug("api server (pid %d) already exited", g.pid)
		return nil
	default:
	}

	logging.Supervisor("stopping api server (pid %d)", g.pid)
	if err := terminateProcessGroup(g.cmd); err != nil && !isProcessGone(err) {
		logging.SupervisorWarn("failed to terminate api server: %v", err)
	}

	timer := time.NewTimer(g.grace)
	defer timer.Stop()

	select {
	case <-g.done:
		return nil
	case <-timer.C:
	}

	logging.SupervisorWarn("api server did not exit within %v, killing", g.grace)
	if err := killProcessGroup(g.cmd); err != nil && !isProcessGone(err) {
		return fmt.Errorf("failed to kill api server: %w", err)
	}
	<-g.done
	return nil
}

// closeOutput waits for the output copier to see EOF, then closes the pipe
// and the log. A process that escaped the group can hold the pipe open; after
// the grace period the pipe is closed under it.
func (g *Guard) closeOutput() {
	timer := time.NewTimer(g.grace)
	defer timer.Stop()

	select {
	case <-g.drained:
	case <-timer.C:
		logging.SupervisorWarn("server output still open after %v, closing it", g.grace)
		g.output.Close()
		<-g.drained
	}

	g.output.Close()
	if err := g.log.Close(); err != nil {
		logging.SupervisorDebug("close server log: %v", err)
	}
}
