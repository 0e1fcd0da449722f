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
	"fmt"

	"github.com/sirupsen/logrus"
)

// ProgressEvent describes one completed solver call.
type ProgressEvent struct {
	Partition string
	Count     int // completed calls in this process, starting at 1
	Cell      CellKey

	// Axis totals; XTotal refers to the full ionization axis.
	XTotal, NBsTotal, RsTotal int

	Dlnz            float64
	InjectionEnergy float64
	InjectionIndex  int // position within the swept injection energies
	InjectionTotal  int
}

// CellResult describes the outcome of one cell.
type CellResult struct {
	Cell   CellKey `toml:"cell"`
	Status string  `toml:"status"` // "done", "failed" or "skipped"
	Path   string  `toml:"path,omitempty"`
	Error  string  `toml:"error,omitempty"`

	// Profile is the averaged stage timing of the cell's solver calls,
	// excluding warm-up calls.
	Profile string `toml:"profile,omitempty"`
}

// Cell statuses.
const (
	StatusDone    = "done"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ProgressReporter receives sweep progress events.
type ProgressReporter interface {
	Init(partition string, total int)
	Progress(ProgressEvent)
	CellDone(partition string, r CellResult)
	CellFailed(partition string, cell CellKey, err error)
}

// LogReporter writes one structured log line per event, so an external
// monitor can follow the sweep by reading the log.
type LogReporter struct {
	Log logrus.FieldLogger
}

// NewLogReporter returns a reporter writing to l. If l is nil the
// standard logrus logger is used.
func NewLogReporter(l logrus.FieldLogger) *LogReporter {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogReporter{Log: l}
}

func of(i, n int) string { return fmt.Sprintf("%d/%d", i, n) }

// Init reports the amount of work assigned to this process.
func (r *LogReporter) Init(partition string, total int) {
	r.Log.WithFields(logrus.Fields{
		"event":     "init",
		"partition": partition,
		"total":     total,
	}).Info("starting sweep")
}

// Progress reports a completed solver call.
func (r *LogReporter) Progress(e ProgressEvent) {
	r.Log.WithFields(logrus.Fields{
		"event":     "progress",
		"partition": e.Partition,
		"count":     e.Count,
		"x":         e.Cell.X,
		"x_index":   of(e.Cell.XIndex, e.XTotal),
		"nBs":       e.Cell.NBs,
		"nBs_index": of(e.Cell.NBsIndex, e.NBsTotal),
		"rs":        e.Cell.Rs,
		"rs_index":  of(e.Cell.RsIndex, e.RsTotal),
		"dlnz":      e.Dlnz,
		"inj_eng":   e.InjectionEnergy,
		"inj_index": of(e.InjectionIndex, e.InjectionTotal),
	}).Info("progress")
}

// CellDone reports a finished or skipped cell.
func (r *LogReporter) CellDone(partition string, c CellResult) {
	f := logrus.Fields{
		"event":     "cell_" + c.Status,
		"partition": partition,
		"rs":        c.Cell.Rs,
		"x":         c.Cell.X,
		"nBs":       c.Cell.NBs,
		"path":      c.Path,
	}
	if c.Profile != "" {
		f["profile"] = c.Profile
	}
	r.Log.WithFields(f).Info("cell " + c.Status)
}

// CellFailed reports a failed cell.
func (r *LogReporter) CellFailed(partition string, cell CellKey, err error) {
	r.Log.WithFields(logrus.Fields{
		"event":     "cell_failed",
		"partition": partition,
		"rs":        cell.Rs,
		"x":         cell.X,
		"nBs":       cell.NBs,
		"class":     errorClass(err),
	}).WithError(err).Error("cell failed")
}
