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

package tfgen

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// Sweeper sweeps a grid, calling the solver once per injection energy
// and writing one table per cell.
//
// Cells are independent: each starts without a checkpoint and with fresh
// tables, and nothing but the immutable grid and bins is shared between
// them. Within a cell the injection energies are swept in increasing
// order because each call consumes the checkpoint the previous call
// produced.
type Sweeper struct {
	Grid         *GridSpec
	PhotonBins   []EnergyBin
	ElectronBins []EnergyBin
	TimeStep     *TimeStepPolicy
	Static       *StaticConfig
	Solver       Solver
	Writer       *TableWriter
	Progress     ProgressReporter

	// SolverTimeout bounds each solver call. Zero means no limit.
	SolverTimeout time.Duration

	// MaxSolverRetries is the number of times a call that failed with a
	// transient error is retried.
	MaxSolverRetries uint64

	// SkipExisting skips cells whose table already exists.
	SkipExisting bool

	// NewBackOff returns the retry policy for solver calls. The default
	// is exponential.
	NewBackOff func() backoff.BackOff
}

// check validates the sweeper configuration.
func (s *Sweeper) check() error {
	switch {
	case s.Grid == nil:
		return configErrorf("Grid", "not specified")
	case s.TimeStep == nil:
		return configErrorf("TimeStep", "not specified")
	case s.Solver == nil:
		return configErrorf("Solver", "not specified")
	case s.Writer == nil:
		return configErrorf("OutputDir", "no table writer")
	case len(s.ElectronBins) == 0:
		return configErrorf("bins", "no electron bins")
	case len(s.PhotonBins) != len(s.Grid.photonEnergies):
		return configErrorf("bins", "grid has %d photon energies but there are %d photon bins",
			len(s.Grid.photonEnergies), len(s.PhotonBins))
	}
	if err := s.TimeStep.Validate(); err != nil {
		return err
	}
	for _, rs := range s.Grid.redshift {
		if _, err := s.TimeStep.Dlnz(rs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sweeper) progress() ProgressReporter {
	if s.Progress == nil {
		return NewLogReporter(nil)
	}
	return s.Progress
}

func (s *Sweeper) static() *StaticConfig {
	if s.Static == nil {
		return DefaultStaticConfig()
	}
	return s.Static
}

// Run sweeps every cell of the grid. A cell whose solver calls or table
// write fail is reported and recorded as failed, and the sweep moves on.
// If ctx is cancelled the cell in progress is finished and the sweep
// stops before starting the next one. Run returns an error only if the
// sweep is misconfigured.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	static := s.static()
	partition := s.Grid.PartitionID()
	cells := s.Grid.Cells()
	nInj := len(s.Grid.injection)
	report := &Report{
		Partition:   partition,
		Version:     Version,
		Fingerprint: static.Fingerprint(),
		Started:     time.Now(),
	}

	skip := make([]bool, len(cells))
	total := 0
	for i, key := range cells {
		if s.SkipExisting {
			exists, err := s.Writer.Exists(ctx, key)
			if err != nil {
				logrus.WithError(err).WithField("cell", key.String()).Warn("checking for existing table")
			}
			if exists {
				skip[i] = true
				continue
			}
		}
		total += nInj
	}
	report.Total = total
	pr := s.progress()
	pr.Init(partition, total)

	// Calls inside a cell are not interrupted by ctx.
	callCtx := context.WithoutCancel(ctx)
	var count int
	for i, key := range cells {
		if ctx.Err() != nil {
			report.Interrupted = true
			logrus.WithField("partition", partition).Warnf("sweep interrupted: %d of %d cells not started", len(cells)-i, len(cells))
			break
		}
		var r CellResult
		if skip[i] {
			r = CellResult{Cell: key, Status: StatusSkipped, Path: s.Writer.Path(key)}
			pr.CellDone(partition, r)
		} else {
			var err error
			r, err = s.runCell(callCtx, key, static, &count)
			if err != nil {
				pr.CellFailed(partition, key, err)
			} else {
				pr.CellDone(partition, r)
			}
		}
		report.Cells = append(report.Cells, r)
	}
	report.Completed = count
	report.Finished = time.Now()
	return report, nil
}

// runCell sweeps the injection energies of one cell and writes its
// tables. It moves through three states: the tables and profiler are
// allocated with no checkpoint, the injection energies are swept while
// threading the checkpoint from call to call, and the finished tables are
// handed to the writer.
func (s *Sweeper) runCell(ctx context.Context, key CellKey, static *StaticConfig, count *int) (CellResult, error) {
	result := CellResult{Cell: key, Status: StatusFailed}
	fail := func(err error) (CellResult, error) {
		result.Error = err.Error()
		return result, err
	}

	dlnz, err := s.TimeStep.Dlnz(key.Rs)
	if err != nil {
		return fail(err)
	}
	nPhot, nElec := len(s.PhotonBins), len(s.ElectronBins)
	photWidths, elecWidths := Widths(s.PhotonBins), Widths(s.ElectronBins)
	cell := NewCell(key, nPhot, nElec)
	prof := NewProfiler()
	var ckpt *Checkpoint
	xTotal, nBsTotal, rsTotal := s.Grid.axisTotals()

	for i, k := range s.Grid.injection {
		injE := s.Grid.photonEnergies[k]
		req := &SolverRequest{
			Checkpoint:         ckpt,
			Cell:               key,
			Dlnz:               dlnz,
			RsInitial:          key.Rs,
			NumSubsteps:        NumSubsteps,
			InjectionEnergy:    injE,
			Channel:            DeltaChannel,
			IonizationOverride: key.X,
			HeliumOverride:     key.X,
			DensityMultiplier:  key.NBs,
			Static:             static,
		}
		resp, err := s.solve(ctx, req)
		if err != nil {
			return fail(err)
		}
		if err = ValidateResponse(resp, key, injE, nPhot, nElec); err != nil {
			return fail(err)
		}
		if err = cell.Accumulate(k, resp, photWidths, elecWidths); err != nil {
			return fail(err)
		}
		ckpt = resp.Checkpoint
		prof.Record(resp.Profile)
		*count++
		s.progress().Progress(ProgressEvent{
			Partition:       s.Grid.PartitionID(),
			Count:           *count,
			Cell:            key,
			XTotal:          xTotal,
			NBsTotal:        nBsTotal,
			RsTotal:         rsTotal,
			Dlnz:            dlnz,
			InjectionEnergy: injE,
			InjectionIndex:  i,
			InjectionTotal:  len(s.Grid.injection),
		})
	}

	meta := &TableMeta{
		Dlnz:              dlnz,
		Fingerprint:       static.Fingerprint(),
		PhotonEnergies:    Representatives(s.PhotonBins),
		ElectronEnergies:  Representatives(s.ElectronBins),
		InjectionEnergies: s.Grid.InjectionEnergies(),
	}
	path, err := s.Writer.Write(ctx, cell, meta)
	if err != nil {
		// A table that was written but not published is kept.
		result.Path = path
		return fail(err)
	}
	if avg := prof.Average(); avg != nil {
		result.Profile = avg.String()
		logrus.WithField("cell", key.String()).Debugf("solver stage timings: %s", prof.Summary())
	}
	result.Status = StatusDone
	result.Path = path
	return result, nil
}

// solve calls the solver, retrying transient failures. Any error
// returned is a *SolverInvocationError.
func (s *Sweeper) solve(ctx context.Context, req *SolverRequest) (*SolverResponse, error) {
	b := retryPolicy(s.NewBackOff, s.MaxSolverRetries)

	var resp *SolverResponse
	err := backoff.RetryNotify(
		func() error {
			callCtx := ctx
			if s.SolverTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, s.SolverTimeout)
				defer cancel()
			}
			var err error
			resp, err = s.Solver.Solve(callCtx, req)
			if err != nil && !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		b,
		func(err error, d time.Duration) {
			logrus.WithError(err).WithField("cell", req.Cell.String()).Warnf("solver call failed: retrying in %v", d)
		},
	)
	if err != nil {
		var se *SolverInvocationError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, &SolverInvocationError{Cell: req.Cell, InjectionEnergy: req.InjectionEnergy, Err: err}
	}
	return resp, nil
}

// retryPolicy returns the policy made by newBackOff, or an exponential
// one if it is nil, stopped after retries retries. With zero retries the
// operation is tried once.
func retryPolicy(newBackOff func() backoff.BackOff, retries uint64) backoff.BackOff {
	if retries == 0 {
		return &backoff.StopBackOff{}
	}
	var b backoff.BackOff
	if newBackOff != nil {
		b = newBackOff()
	} else {
		b = backoff.NewExponentialBackOff()
	}
	return backoff.WithMaxRetries(b, retries)
}

// transientError marks an error as worth retrying.
type transientError struct{ err error }

func (e transientError) Error() string   { return e.err.Error() }
func (e transientError) Unwrap() error   { return e.err }
func (e transientError) Temporary() bool { return true }

// Transient marks err as transient: the same call may succeed if retried.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err, or any error it wraps, has a
// Temporary method that returns true.
func IsTransient(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
