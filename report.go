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
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Report summarizes a sweep.
type Report struct {
	Partition   string       `toml:"partition"`
	Version     string       `toml:"version"`
	Fingerprint string       `toml:"config_fingerprint"`
	Started     time.Time    `toml:"started"`
	Finished    time.Time    `toml:"finished"`
	Total       int          `toml:"total_calls"`
	Completed   int          `toml:"completed_calls"`
	Interrupted bool         `toml:"interrupted"`
	Cells       []CellResult `toml:"cells"`
}

// Failed returns the cells that failed.
func (r *Report) Failed() []CellResult {
	var o []CellResult
	for _, c := range r.Cells {
		if c.Status == StatusFailed {
			o = append(o, c)
		}
	}
	return o
}

func (r *Report) String() string {
	var done, skipped int
	for _, c := range r.Cells {
		switch c.Status {
		case StatusDone:
			done++
		case StatusSkipped:
			skipped++
		}
	}
	return fmt.Sprintf("partition %s: %d cells done, %d skipped, %d failed; %d of %d solver calls",
		r.Partition, done, skipped, len(r.Failed()), r.Completed, r.Total)
}

// ReportPath returns the path of the status file for partition in dir.
func ReportPath(dir, partition string) string {
	return filepath.Join(dir, "status_"+partition+".toml")
}

// WriteTOML writes the report to the partition's status file in dir and
// returns its path.
func (r *Report) WriteTOML(dir string) (string, error) {
	path := ReportPath(dir, r.Partition)
	f, err := os.Create(path)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	if err = toml.NewEncoder(f).Encode(r); err != nil {
		f.Close()
		return "", &IOError{Path: path, Err: err}
	}
	if err = f.Close(); err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	return path, nil
}

// ReadReport reads a status file written by WriteTOML.
func ReadReport(path string) (*Report, error) {
	r := new(Report)
	if _, err := toml.DecodeFile(path, r); err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	return r, nil
}

// Elapsed returns the wall time of the sweep.
func (r *Report) Elapsed() time.Duration { return r.Finished.Sub(r.Started) }
