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

package tfgenutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/tfgen"
	"github.com/spatialmodel/tfgen/cloud"
	"github.com/spatialmodel/tfgen/solverrpc"
)

// solverStartupTime is how long a spawned solver is given to start
// listening.
const solverStartupTime = 10 * time.Minute

// setLogging directs log output to w and, if the LogFile option is set,
// to that file. The returned function closes the log file.
func setLogging(w io.Writer, cfg *viper.Viper) (func(), error) {
	switch f := cfg.GetString("LogFormat"); f {
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, configError("LogFormat", fmt.Errorf("must be \"text\" or \"json\" but is %q", f))
	}
	logFile := os.ExpandEnv(cfg.GetString("LogFile"))
	if logFile == "" {
		logrus.SetOutput(w)
		return func() {}, nil
	}
	f, err := os.Create(logFile)
	if err != nil {
		return nil, configError("LogFile", err)
	}
	logrus.SetOutput(io.MultiWriter(w, f))
	return func() {
		logrus.SetOutput(w)
		f.Close()
	}, nil
}

// PrintBins writes the photon or electron energy grid to w.
func PrintBins(w io.Writer, cfg *viper.Viper, kind string) error {
	photon, electron, err := Bins(cfg)
	if err != nil {
		return err
	}
	var bins []tfgen.EnergyBin
	switch kind {
	case "photon":
		bins = photon
	case "electron":
		bins = electron
	default:
		return fmt.Errorf("tfgen: invalid bin kind %q; it must be \"photon\" or \"electron\"", kind)
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "index\tlow [eV]\thigh [eV]\twidth [eV]\trepresentative [eV]")
	for i, b := range bins {
		fmt.Fprintf(tw, "%d\t%.6e\t%.6e\t%.6e\t%.6e\n", i, b.Low, b.High, b.Width, b.Representative)
	}
	return tw.Flush()
}

// Sweep sets up a sweep as specified by cfg and runs it, writing a
// status file to the output directory when it finishes. If the dryrun
// option is set, the sweep plan is written to w instead. Sweep returns
// an error if the configuration is invalid or any cell failed.
func Sweep(ctx context.Context, w io.Writer, cfg *viper.Viper) error {
	s, err := newSweeper(cfg)
	if err != nil {
		return err
	}
	if cfg.GetBool("dryrun") {
		return DryRun(w, s)
	}
	if err = makeOutputDir(s.Writer.Dir); err != nil {
		return err
	}

	if url := os.ExpandEnv(cfg.GetString("PublishURL")); url != "" {
		p, err := cloud.NewPublisher(ctx, url)
		if err != nil {
			return configError("PublishURL", err)
		}
		defer p.Close()
		s.Writer.Publish = p
	}

	solver, stop, err := startSolver(ctx, cfg, s.Writer.Dir)
	if err != nil {
		return err
	}
	defer stop()
	s.Solver = solver

	report, err := s.Run(ctx)
	if err != nil {
		return err
	}
	path, err := report.WriteTOML(s.Writer.Dir)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"partition": report.Partition, "status": path})
	log.Infof("%v in %v", report, report.Elapsed())
	if report.Interrupted {
		return fmt.Errorf("tfgen: sweep of partition %s was interrupted", report.Partition)
	}
	if n := len(report.Failed()); n > 0 {
		return fmt.Errorf("tfgen: %d cells of partition %s failed; see %s", n, report.Partition, path)
	}
	return nil
}

// newSweeper builds a sweeper from cfg, without a solver.
func newSweeper(cfg *viper.Viper) (*tfgen.Sweeper, error) {
	photon, electron, err := Bins(cfg)
	if err != nil {
		return nil, err
	}
	grid, err := GridSpec(cfg, photon)
	if err != nil {
		return nil, err
	}
	ts, err := TimeStepPolicy(cfg)
	if err != nil {
		return nil, err
	}
	static, err := StaticConfig(cfg)
	if err != nil {
		return nil, err
	}
	dir, err := checkOutputDir(cfg.GetString("OutputDir"))
	if err != nil {
		return nil, err
	}
	writeRetries, err := checkRetries(cfg, "WriteRetries")
	if err != nil {
		return nil, err
	}
	solverRetries, err := checkRetries(cfg, "Solver.MaxRetries")
	if err != nil {
		return nil, err
	}
	timeout, err := checkTimeout(cfg.Get("Solver.Timeout"))
	if err != nil {
		return nil, err
	}
	return &tfgen.Sweeper{
		Grid:             grid,
		PhotonBins:       photon,
		ElectronBins:     electron,
		TimeStep:         ts,
		Static:           static,
		Writer:           &tfgen.TableWriter{Dir: dir, MaxRetries: writeRetries},
		Progress:         tfgen.NewLogReporter(logrus.StandardLogger()),
		SolverTimeout:    timeout,
		MaxSolverRetries: solverRetries,
		SkipExisting:     cfg.GetBool("skipexisting"),
	}, nil
}

// startSolver connects to the solver, first starting it if the
// Solver.Command option is set. The returned function disconnects and
// stops any started solver.
func startSolver(ctx context.Context, cfg *viper.Viper, outputDir string) (tfgen.Solver, func(), error) {
	addr := cfg.GetString("Solver.Address")
	if addr == "" {
		return nil, nil, configError("Solver.Address", fmt.Errorf("not specified"))
	}
	command := os.ExpandEnv(cfg.GetString("Solver.Command"))
	if command == "" {
		b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
		c, err := solverrpc.Dial(ctx, addr, b)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}

	p, err := solverrpc.Spawn(command, addr, checkSolverLogFile(cfg.GetString("Solver.LogFile"), outputDir))
	if err != nil {
		return nil, nil, err
	}
	stop := func() {
		if err := p.Stop(); err != nil {
			logrus.WithError(err).Warn("stopping solver")
		}
	}
	// Give up dialing if the solver exits.
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.Exited():
			cancel()
		case <-dctx.Done():
		}
	}()
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = solverStartupTime
	c, err := solverrpc.Dial(dctx, addr, b)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return c, func() {
		c.Close()
		stop()
	}, nil
}

// DryRun writes the plan for s to w: the grid axes, the injection
// energies, the time step at each redshift and the table each cell
// would be written to.
func DryRun(w io.Writer, s *tfgen.Sweeper) error {
	g := s.Grid
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "partition:\t%s\n", g.PartitionID())
	fmt.Fprintf(tw, "ionization (xH):\t%v\n", g.Ionization())
	fmt.Fprintf(tw, "density (nBs):\t%v\n", g.Density())
	fmt.Fprintf(tw, "redshift (1+z):\t%v\n", g.Redshift())
	inj := g.InjectionIndices()
	e := g.InjectionEnergies()
	fmt.Fprintf(tw, "injection energies:\t%d (bins %d to %d, %.4e to %.4e eV)\n",
		len(inj), inj[0], inj[len(inj)-1], e[0], e[len(e)-1])
	fmt.Fprintf(tw, "time step:\t%v\n", s.TimeStep)
	fmt.Fprintf(tw, "solver configuration:\t%s\n", s.Static.Fingerprint())
	fmt.Fprintf(tw, "cells:\t%d\n", g.NumCells())
	fmt.Fprintf(tw, "solver calls:\t%d\n", g.TotalWork())
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "1+z\tdlnz")
	for _, rs := range g.Redshift() {
		dlnz, err := s.TimeStep.Dlnz(rs)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%g\t%.6e\n", rs, dlnz)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, key := range g.Cells() {
		path := s.Writer.Path(key)
		status := ""
		if _, err := os.Stat(path); err == nil {
			status = " (exists)"
		}
		fmt.Fprintf(w, "%s%s\n", path, status)
	}
	return nil
}
