/*
Copyright © 2024 the tfgen authors.
This file is part of tfgen.

tfgen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tfgen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tfgen.  If not, see <http://www.gnu.org/licenses/>.
*/

package solverrpc

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// AddrEnv is the environment variable that tells a spawned solver which
// address to listen on.
const AddrEnv = "TFGEN_SOLVER_ADDR"

// Process is a solver running as a child process.
type Process struct {
	cmd  *exec.Cmd
	log  *os.File
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Spawn starts command, which should start a solver listening on addr.
// The address is passed to the solver in the AddrEnv environment
// variable. Output from the solver is written to logFile.
func Spawn(command, addr, logFile string) (*Process, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("solverrpc: empty solver command")
	}
	f, err := os.Create(logFile)
	if err != nil {
		return nil, fmt.Errorf("solverrpc: creating solver log: %v", err)
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), AddrEnv+"="+addr)
	cmd.Stdout = f
	cmd.Stderr = f
	logrus.WithFields(logrus.Fields{"command": command, "addr": addr, "log": logFile}).Info("spawning solver")
	if err = cmd.Start(); err != nil {
		f.Close()
		return nil, fmt.Errorf("solverrpc: starting solver: %v", err)
	}
	p := &Process{cmd: cmd, log: f, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.log.Close()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// Exited returns a channel that is closed when the process exits.
func (p *Process) Exited() <-chan struct{} { return p.done }

// Stop kills the process and waits for it to exit.
func (p *Process) Stop() error {
	select {
	case <-p.done:
	default:
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("solverrpc: stopping solver: %v", err)
		}
		<-p.done
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil && p.err.Error() != "signal: killed" {
		return fmt.Errorf("solverrpc: solver exited: %v", p.err)
	}
	return nil
}
