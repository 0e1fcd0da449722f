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
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spatialmodel/tfgen"
)

type echoSolver struct {
	block chan struct{}
	fail  bool

	// wrongCell makes the solver return a checkpoint for another cell.
	wrongCell bool
}

func (s *echoSolver) Solve(ctx context.Context, req *tfgen.SolverRequest) (*tfgen.SolverResponse, error) {
	if s.block != nil {
		<-s.block
	}
	if s.fail {
		return nil, errors.New("diverged")
	}
	cell := req.Cell
	if s.wrongCell {
		cell.Rs++
	}
	return &tfgen.SolverResponse{
		CMBLoss:    []float64{req.InjectionEnergy, 2 * req.InjectionEnergy},
		LowerBound: []float64{0, req.Dlnz},
		Checkpoint: &tfgen.Checkpoint{Cell: cell, ElectronProcesses: json.RawMessage(`{"n":1}`)},
		Profile:    tfgen.Profile{Labels: []string{"ics"}, Durations: []float64{0.5}},
	}, nil
}

func serve(t *testing.T, s tfgen.Solver) (addr string, stop func()) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := Serve(ctx, l, s); err != nil {
			t.Error(err)
		}
		close(done)
	}()
	return l.Addr().String(), func() {
		cancel()
		<-done
	}
}

func dial(t *testing.T, addr string) *Client {
	c, err := Dial(context.Background(), addr, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClient(t *testing.T) {
	addr, stop := serve(t, &echoSolver{})
	defer stop()
	c := dial(t, addr)
	defer c.Close()

	cell := tfgen.CellKey{Rs: 10, X: 1e-5, NBs: 1, RsIndex: 1}
	resp, err := c.Solve(context.Background(), &tfgen.SolverRequest{
		Cell:            cell,
		Dlnz:            0.04,
		InjectionEnergy: 300,
		Static:          tfgen.DefaultStaticConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.CMBLoss[1] != 600 {
		t.Errorf("cmbloss: have %g, want 600", resp.CMBLoss[1])
	}
	if resp.LowerBound[1] != 0.04 {
		t.Errorf("lowerbound: have %g, want 0.04", resp.LowerBound[1])
	}
	if resp.Checkpoint == nil || resp.Checkpoint.Cell != cell {
		t.Errorf("checkpoint should carry the request cell: %+v", resp.Checkpoint)
	}
	if string(resp.Checkpoint.ElectronProcesses) != `{"n":1}` {
		t.Errorf("checkpoint contents: %s", resp.Checkpoint.ElectronProcesses)
	}
	if len(resp.Profile.Labels) != 1 || resp.Profile.Durations[0] != 0.5 {
		t.Errorf("profile: %+v", resp.Profile)
	}
}

func TestClient_wrongCellCheckpoint(t *testing.T) {
	addr, stop := serve(t, &echoSolver{wrongCell: true})
	defer stop()
	c := dial(t, addr)
	defer c.Close()

	cell := tfgen.CellKey{Rs: 10, X: 1e-5, NBs: 1}
	resp, err := c.Solve(context.Background(), &tfgen.SolverRequest{Cell: cell, Static: tfgen.DefaultStaticConfig()})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Checkpoint == nil || resp.Checkpoint.Cell == cell {
		t.Fatalf("the checkpoint cell returned by the solver should be passed through: %+v", resp.Checkpoint)
	}
	resp.HighEnergyDeposition = [][]float64{make([]float64, tfgen.NumDepositionChannels), make([]float64, tfgen.NumDepositionChannels)}
	err = tfgen.ValidateResponse(resp, cell, 300, 0, 0)
	var se *tfgen.SolverInvocationError
	if !errors.As(err, &se) || !strings.Contains(err.Error(), "checkpoint") {
		t.Errorf("have %v, want a checkpoint SolverInvocationError", err)
	}
}

func TestClient_solverError(t *testing.T) {
	addr, stop := serve(t, &echoSolver{fail: true})
	defer stop()
	c := dial(t, addr)
	defer c.Close()

	_, err := c.Solve(context.Background(), &tfgen.SolverRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if tfgen.IsTransient(err) {
		t.Errorf("solver errors should not be transient: %v", err)
	}
}

func TestClient_timeout(t *testing.T) {
	block := make(chan struct{})
	addr, stop := serve(t, &echoSolver{block: block})
	defer stop()
	defer close(block)
	c := dial(t, addr)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Solve(ctx, &tfgen.SolverRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !tfgen.IsTransient(err) {
		t.Errorf("timeouts should be transient: %v", err)
	}
}

func TestDial_noServer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	_, err = Dial(context.Background(), addr, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1))
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestSpawn(t *testing.T) {
	if _, err := os.Stat("/bin/sleep"); err != nil {
		t.Skip("no sleep command")
	}
	dir, err := ioutil.TempDir("", "tfgen_spawn")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	p, err := Spawn("/bin/sleep 30", "127.0.0.1:0", filepath.Join(dir, "solver.log"))
	if err != nil {
		t.Fatal(err)
	}
	if err = p.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-p.Exited():
	default:
		t.Error("process should have exited")
	}
	if _, err = os.Stat(filepath.Join(dir, "solver.log")); err != nil {
		t.Error(err)
	}
}
