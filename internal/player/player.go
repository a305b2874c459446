// Package player contains an external audio player.
package player

import (
	"bytes"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultArgs are the arguments passed to ffplay in order to read
// a session description from the standard input.
var DefaultArgs = []string{
	"-hide_banner",
	"-loglevel", "error",
	"-protocol_whitelist", "pipe,file,udp,rtp",
	"-vn",
	"-nodisp",
	"-nostats",
	"-i", "-",
}

// Player is an external process that plays the relayed stream.
type Player struct {
	// executable.
	// It defaults to "ffplay".
	Command string

	// arguments.
	// They default to DefaultArgs.
	Args []string

	// session description written to the standard input of the process.
	Description []byte

	// maximum time to wait for the process to exit after it has been killed.
	// It defaults to 4 seconds.
	KillTimeout time.Duration

	// Logger.
	// It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	cmd *exec.Cmd
	err error

	done chan struct{}
}

// Start starts the process.
func (p *Player) Start() error {
	if p.Command == "" {
		p.Command = "ffplay"
	}
	if p.Args == nil {
		p.Args = DefaultArgs
	}
	if p.KillTimeout == 0 {
		p.KillTimeout = 4 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.StandardLogger()
	}

	path, err := exec.LookPath(p.Command)
	if err != nil {
		return err
	}

	p.cmd = exec.Command(path, p.Args...)
	p.cmd.Stdin = bytes.NewReader(p.Description)

	err = p.cmd.Start()
	if err != nil {
		return err
	}

	p.Logger.WithFields(logrus.Fields{
		"command": path,
		"pid":     p.cmd.Process.Pid,
	}).Debug("player started")

	p.done = make(chan struct{})
	go p.run()

	return nil
}

func (p *Player) run() {
	defer close(p.done)
	p.err = p.cmd.Wait()
}

// Done returns a channel that is closed when the process exits.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Wait waits for the process to exit.
func (p *Player) Wait() error {
	<-p.done
	return p.err
}

// Close kills the process and waits for it to exit, up to KillTimeout.
// It does nothing if the process was not started.
func (p *Player) Close() {
	if p.cmd == nil || p.done == nil {
		return
	}

	select {
	case <-p.done:
		return
	default:
	}

	p.cmd.Process.Kill() //nolint:errcheck

	select {
	case <-p.done:
	case <-time.After(p.KillTimeout):
		p.Logger.WithField("pid", p.cmd.Process.Pid).Warn("player did not exit")
	}
}
