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
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"
)

// Version is the tfgen version recorded in every table.
const Version = "0.3.0"

// Publisher copies a finished table to another storage location.
type Publisher interface {
	Publish(ctx context.Context, localPath string) error
}

// publishChecker is implemented by publishers that can report whether a
// table has already been published.
type publishChecker interface {
	Exists(ctx context.Context, localPath string) (bool, error)
}

// TableMeta holds the run information stored alongside a cell's tables.
type TableMeta struct {
	Dlnz              float64
	Fingerprint       string
	PhotonEnergies    []float64
	ElectronEnergies  []float64
	InjectionEnergies []float64 // swept energies, informational
}

// TableWriter persists finished cells as netCDF files, one per cell.
type TableWriter struct {
	// Dir is the output directory.
	Dir string

	// MaxRetries is the number of times a failed write is retried.
	MaxRetries uint64

	// Publish, if not nil, is called with each file after it is written.
	Publish Publisher

	// NewBackOff returns the retry policy. The default is exponential.
	NewBackOff func() backoff.BackOff
}

// Path returns the output path for key. The same key always maps to the
// same path, so a re-run overwrites the previous table for that cell.
func (w *TableWriter) Path(key CellKey) string {
	return filepath.Join(w.Dir, fmt.Sprintf("tf_rs_%.3E_x_%.3E_nBs_%.3E.nc", key.Rs, key.X, key.NBs))
}

func (w *TableWriter) backOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(retryPolicy(w.NewBackOff, w.MaxRetries), ctx)
}

// Exists reports whether the table for key has already been written and,
// if Publish can check for published tables, published.
func (w *TableWriter) Exists(ctx context.Context, key CellKey) (bool, error) {
	path := w.Path(key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if p, ok := w.Publish.(publishChecker); ok {
		return p.Exists(ctx, path)
	}
	return true, nil
}

// Write saves c and returns the path it was written to. The file is
// written under a temporary name and renamed when complete, so the final
// path never holds a partial table. Failures are retried; if all attempts
// fail an *IOError is returned.
func (w *TableWriter) Write(ctx context.Context, c *Cell, meta *TableMeta) (string, error) {
	path := w.Path(c.Key)
	err := backoff.RetryNotify(
		func() error { return w.writeFile(path, c, meta) },
		w.backOff(ctx),
		func(err error, d time.Duration) {
			logrus.WithError(err).WithField("path", path).Warnf("write failed: retrying in %v", d)
		},
	)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	if w.Publish != nil {
		err = backoff.RetryNotify(
			func() error { return w.Publish.Publish(ctx, path) },
			w.backOff(ctx),
			func(err error, d time.Duration) {
				logrus.WithError(err).WithField("path", path).Warnf("publish failed: retrying in %v", d)
			},
		)
		if err != nil {
			return path, &IOError{Path: path, Err: fmt.Errorf("publishing: %v", err)}
		}
	}
	return path, nil
}

func tableHeader(c *Cell, meta *TableMeta) *cdf.Header {
	nPhot, nElec := c.HepTF.Shape[0], c.LeeTF.Shape[0]
	h := cdf.NewHeader(
		[]string{"photon_bin", "electron_bin", "injection_bin", "channel", "one"},
		[]int{nPhot, nElec, c.HepTF.Shape[1], NumDepositionChannels, 1})
	h.AddAttribute("", "comment", "transfer functions for one (redshift, ionization, density) cell")
	h.AddAttribute("", "rs", []float64{c.Key.Rs})
	h.AddAttribute("", "x", []float64{c.Key.X})
	h.AddAttribute("", "nBs", []float64{c.Key.NBs})
	h.AddAttribute("", "dlnz", []float64{meta.Dlnz})
	h.AddAttribute("", "config_fingerprint", meta.Fingerprint)
	h.AddAttribute("", "version", Version)

	vars := []struct {
		name, desc, units string
		dims              []string
	}{
		{"hep_tf", "high-energy photon transfer function", "photons per injected particle", []string{"photon_bin", "injection_bin"}},
		{"lep_tf", "low-energy photon transfer function", "photons per injected particle", []string{"photon_bin", "injection_bin"}},
		{"lee_tf", "low-energy electron transfer function", "electrons per injected particle", []string{"electron_bin", "injection_bin"}},
		{"hed_tf", "high-energy deposition (heating, H ionization, excitation, continuum)", "eV per injected particle", []string{"channel", "injection_bin"}},
		{"cmbloss", "energy lost to upscattered CMB photons", "eV per injected particle", []string{"injection_bin"}},
		{"lowerbound", "lower bound returned by the last solver call", "eV", []string{"one"}},
		{"photon_energy", "photon bin representative energy", "eV", []string{"photon_bin"}},
		{"electron_energy", "electron bin representative energy", "eV", []string{"electron_bin"}},
	}
	for _, v := range vars {
		h.AddVariable(v.name, v.dims, []float64{0})
		h.AddAttribute(v.name, "description", v.desc)
		h.AddAttribute(v.name, "units", v.units)
	}
	h.AddVariable("injected", []string{"injection_bin"}, []int32{0})
	h.AddAttribute("injected", "description", "1 for injection columns that were swept, 0 otherwise")
	h.Define()
	return h
}

func (w *TableWriter) writeFile(path string, c *Cell, meta *TableMeta) error {
	h := tableHeader(c, meta)
	for _, err := range h.Check() {
		return fmt.Errorf("tfgen: creating netcdf header: %v", err)
	}
	tmp, err := ioutil.TempFile(filepath.Dir(path), ".tf_*.nc.tmp")
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	f, err := cdf.Create(tmp, h)
	if err != nil {
		return fmt.Errorf("tfgen: creating netcdf file: %v", err)
	}
	injected := make([]int32, c.HepTF.Shape[1])
	for _, k := range c.Written() {
		injected[k] = 1
	}
	data := []struct {
		name string
		v    interface{}
	}{
		{"hep_tf", c.HepTF.Elements},
		{"lep_tf", c.LepTF.Elements},
		{"lee_tf", c.LeeTF.Elements},
		{"hed_tf", c.HedTF.Elements},
		{"cmbloss", c.CMBLoss},
		{"lowerbound", []float64{c.LowerBound}},
		{"photon_energy", fill(meta.PhotonEnergies, c.HepTF.Shape[0])},
		{"electron_energy", fill(meta.ElectronEnergies, c.LeeTF.Shape[0])},
		{"injected", injected},
	}
	for _, d := range data {
		if err := writeVar(f, d.name, d.v); err != nil {
			return err
		}
	}
	if err = cdf.UpdateNumRecs(tmp); err != nil {
		return fmt.Errorf("tfgen: finalizing netcdf file: %v", err)
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	ok = true
	return nil
}

// writeVar writes the full contents of variable name. The writer reports
// io.EOF once a fixed-size variable is full, which is not an error when
// every element has been written.
func writeVar(f *cdf.File, name string, v interface{}) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	size := 1
	for _, l := range end {
		size *= l
	}
	n, err := f.Writer(name, start, end).Write(v)
	if err == io.EOF && n == size {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("tfgen: writing variable %s: %v", name, err)
	}
	if n != size {
		return fmt.Errorf("tfgen: writing variable %s: wrote %d of %d values", name, n, size)
	}
	return nil
}

// fill returns v if it has length n and a Floor-valued slice otherwise.
func fill(v []float64, n int) []float64 {
	if len(v) == n {
		return v
	}
	o := make([]float64, n)
	for i := range o {
		o[i] = Floor
	}
	return o
}

// ReadTable reads a table written by TableWriter.
func ReadTable(path string) (*Cell, *TableMeta, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	f, err := cdf.Open(r)
	if err != nil {
		return nil, nil, fmt.Errorf("tfgen: opening table %s: %v", path, err)
	}
	attr := func(name string) float64 {
		if v, ok := f.Header.GetAttribute("", name).([]float64); ok && len(v) > 0 {
			return v[0]
		}
		return 0
	}
	key := CellKey{Rs: attr("rs"), X: attr("x"), NBs: attr("nBs")}
	meta := &TableMeta{Dlnz: attr("dlnz")}
	if s, ok := f.Header.GetAttribute("", "config_fingerprint").(string); ok {
		meta.Fingerprint = s
	}

	for _, name := range tableVariables {
		if !hasVariable(f, name) {
			return nil, nil, fmt.Errorf("tfgen: %s: missing variable %s", path, name)
		}
	}
	nPhot := f.Header.Lengths("photon_energy")[0]
	nElec := f.Header.Lengths("electron_energy")[0]
	c := NewCell(key, nPhot, nElec)
	tensors := []struct {
		name string
		dst  []float64
	}{
		{"hep_tf", c.HepTF.Elements},
		{"lep_tf", c.LepTF.Elements},
		{"lee_tf", c.LeeTF.Elements},
		{"hed_tf", c.HedTF.Elements},
		{"cmbloss", c.CMBLoss},
	}
	for _, t := range tensors {
		v, err := readFullVar64(f, t.name)
		if err != nil {
			return nil, nil, err
		}
		if len(v) != len(t.dst) {
			return nil, nil, fmt.Errorf("tfgen: %s: variable %s has %d elements; expected %d", path, t.name, len(v), len(t.dst))
		}
		copy(t.dst, v)
	}
	lb, err := readFullVar64(f, "lowerbound")
	if err != nil {
		return nil, nil, err
	}
	if len(lb) != 1 {
		return nil, nil, fmt.Errorf("tfgen: %s: variable lowerbound has %d elements; expected 1", path, len(lb))
	}
	c.LowerBound = lb[0]
	if meta.PhotonEnergies, err = readFullVar64(f, "photon_energy"); err != nil {
		return nil, nil, err
	}
	if meta.ElectronEnergies, err = readFullVar64(f, "electron_energy"); err != nil {
		return nil, nil, err
	}

	buf, err := readVar(f, "injected")
	if err != nil {
		return nil, nil, err
	}
	injected, ok := buf.([]int32)
	if !ok || len(injected) != len(c.written) {
		return nil, nil, fmt.Errorf("tfgen: %s: malformed variable injected", path)
	}
	for k, v := range injected {
		if v != 0 {
			c.written[k] = true
			meta.InjectionEnergies = append(meta.InjectionEnergies, meta.PhotonEnergies[k])
		}
	}
	return c, meta, nil
}

// tableVariables are the variables every table holds.
var tableVariables = []string{"hep_tf", "lep_tf", "lee_tf", "hed_tf", "cmbloss",
	"lowerbound", "photon_energy", "electron_energy", "injected"}

func hasVariable(f *cdf.File, name string) bool {
	for _, v := range f.Header.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

// readVar reads the full contents of variable name, which must exist.
func readVar(f *cdf.File, name string) (interface{}, error) {
	r := f.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("tfgen: reading variable %s: %v", name, err)
	}
	return buf, nil
}

// readFullVar64 reads a full float64 variable.
func readFullVar64(f *cdf.File, name string) ([]float64, error) {
	buf, err := readVar(f, name)
	if err != nil {
		return nil, err
	}
	v, ok := buf.([]float64)
	if !ok {
		return nil, fmt.Errorf("tfgen: variable %s is not float64", name)
	}
	return v, nil
}
