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
	"bytes"
	"context"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/tfgen"
	"github.com/spatialmodel/tfgen/solverrpc"
)

// testConfig returns a configuration holding the default value of every
// option, overridden by vals.
func testConfig(vals map[string]interface{}) *viper.Viper {
	cfg := viper.New()
	for _, o := range options {
		cfg.SetDefault(o.name, o.defaultVal)
	}
	for k, v := range vals {
		cfg.Set(k, v)
	}
	return cfg
}

// fakeSolver returns fixed spectra for nPhot photon bins and nElec
// electron bins.
type fakeSolver struct{ nPhot, nElec int }

func (s fakeSolver) Solve(ctx context.Context, req *tfgen.SolverRequest) (*tfgen.SolverResponse, error) {
	spec := func(n int) [][]float64 {
		o := make([][]float64, n)
		for i := range o {
			o[i] = []float64{0, 1}
		}
		return o
	}
	return &tfgen.SolverResponse{
		PhotonSpectrum:       spec(s.nPhot),
		LowEnergyPhoton:      spec(s.nPhot),
		LowEnergyElectron:    spec(s.nElec),
		HighEnergyDeposition: [][]float64{{0, 0, 0, 0}, {1, 2, 3, 4}},
		CMBLoss:              []float64{0, 1},
		LowerBound:           []float64{0, req.InjectionEnergy},
		Checkpoint:           &tfgen.Checkpoint{Cell: req.Cell},
	}, nil
}

func TestToFloat64SliceE(t *testing.T) {
	tests := []struct {
		in   interface{}
		want []float64
	}{
		{in: []interface{}{int64(1), 2.5}, want: []float64{1, 2.5}},
		{in: "[1e-5, 0.1]", want: []float64{1e-5, 0.1}},
		{in: "1e-5, 0.1,", want: []float64{1e-5, 0.1}},
		{in: []float64{3}, want: []float64{3}},
		{in: nil, want: nil},
	}
	for _, test := range tests {
		have, err := toFloat64SliceE(test.in)
		if err != nil {
			t.Errorf("%v: %v", test.in, err)
			continue
		}
		if !reflect.DeepEqual(have, test.want) {
			t.Errorf("%v: have %v, want %v", test.in, have, test.want)
		}
	}
	if _, err := toFloat64SliceE("[1, x]"); err == nil {
		t.Error("expected an error")
	}
	if _, err := toFloat64SliceE(map[string]int{}); err == nil {
		t.Error("expected an error")
	}
}

func TestGridSpec(t *testing.T) {
	cfg := testConfig(map[string]interface{}{
		"Grid.Ionization": "[1e-5, 0.1, 0.5, 0.9]",
		"Grid.Density":    []interface{}{1.0, 10.0},
		"Grid.Redshift":   "10",
		"begin":           1,
		"end":             3,
	})
	photon, _, err := Bins(cfg)
	if err != nil {
		t.Fatal(err)
	}
	g, err := GridSpec(cfg, photon)
	if err != nil {
		t.Fatal(err)
	}
	if have := g.PartitionID(); have != "1-3" {
		t.Errorf("partition: have %s, want 1-3", have)
	}
	if have, want := g.NumCells(), 4; have != want {
		t.Errorf("cells: have %d, want %d", have, want)
	}

	cfg.Set("partition", 3)
	g, err = GridSpec(cfg, photon)
	if err != nil {
		t.Fatal(err)
	}
	if have := g.Ionization(); !reflect.DeepEqual(have, []float64{0.9}) {
		t.Errorf("ionization: have %v", have)
	}

	cfg.Set("partition", 4)
	if _, err = GridSpec(cfg, photon); !isConfigError(err) {
		t.Errorf("expected a configuration error, have %v", err)
	}
}

func isConfigError(err error) bool {
	_, ok := err.(*tfgen.ConfigurationError)
	return ok
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		vals map[string]interface{}
	}{
		{name: "mode", vals: map[string]interface{}{"TimeStep.Mode": "adaptive"}},
		{name: "conformal without DeltaT", vals: map[string]interface{}{"TimeStep.Mode": "conformal"}},
		{name: "bins", vals: map[string]interface{}{"Bins.Photon.Count": 0}},
		{name: "empty axis", vals: map[string]interface{}{"Grid.Redshift": "[]"}},
		{name: "cmb", vals: map[string]interface{}{"Solver.Static.CMBTreatment": "full"}},
		{name: "timeout", vals: map[string]interface{}{"Solver.Timeout": "soon"}},
		{name: "retries", vals: map[string]interface{}{"WriteRetries": -1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dir, err := ioutil.TempDir("", "tfgen_config")
			if err != nil {
				t.Fatal(err)
			}
			defer os.RemoveAll(dir)
			test.vals["OutputDir"] = dir
			_, err = newSweeper(testConfig(test.vals))
			if !isConfigError(err) {
				t.Errorf("expected a configuration error, have %v", err)
			}
		})
	}
}

func TestDryRun(t *testing.T) {
	dir, err := ioutil.TempDir("", "tfgen_dryrun")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "tables")
	cfg := testConfig(map[string]interface{}{
		"Grid.Ionization":   "[1e-5, 0.5]",
		"Grid.Density":      "[1]",
		"Grid.Redshift":     "[10, 20]",
		"TimeStep.Mode":     "conformal",
		"TimeStep.DeltaT":   1e13,
		"Bins.Photon.Count": 50,
		"OutputDir":         out,
		"dryrun":            true,
	})
	var b bytes.Buffer
	if err = Sweep(context.Background(), &b, cfg); err != nil {
		t.Fatal(err)
	}
	text := b.String()
	for _, want := range []string{
		"partition:", "all",
		"solver calls:",
		filepath.Join(out, "tf_rs_1.000E+01_x_1.000E-05_nBs_1.000E+00.nc"),
		filepath.Join(out, "tf_rs_2.000E+01_x_5.000E-01_nBs_1.000E+00.nc"),
	} {
		if !strings.Contains(text, want) {
			t.Errorf("dry run output is missing %q:\n%s", want, text)
		}
	}
	if _, err = os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("dry run should not create the output directory: %v", err)
	}
}

func TestSweep(t *testing.T) {
	dir, err := ioutil.TempDir("", "tfgen_sweep")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	const nBins = 40
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go solverrpc.Serve(ctx, l, fakeSolver{nPhot: nBins, nElec: nBins})

	cfg := testConfig(map[string]interface{}{
		"Grid.Ionization":       "[1e-5, 0.5]",
		"Grid.Density":          "[1]",
		"Grid.Redshift":         "[10]",
		"Bins.Photon.Count":     nBins,
		"Bins.Electron.Count":   nBins,
		"Solver.Address":        l.Addr().String(),
		"OutputDir":             dir,
		"PublishURL":            "file://" + filepath.Join(dir, "published"),
		"partition":             1,
		"Solver.Timeout":        "1m",
		"Solver.Static.Binning": "DH",
	})
	var b bytes.Buffer
	if err = Sweep(ctx, &b, cfg); err != nil {
		t.Fatal(err)
	}

	name := "tf_rs_1.000E+01_x_5.000E-01_nBs_1.000E+00.nc"
	c, meta, err := tfgen.ReadTable(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if c.Key.X != 0.5 {
		t.Errorf("x: have %g, want 0.5", c.Key.X)
	}
	if len(meta.PhotonEnergies) != nBins {
		t.Errorf("photon energies: have %d, want %d", len(meta.PhotonEnergies), nBins)
	}
	if _, err = os.Stat(filepath.Join(dir, "published", name)); err != nil {
		t.Errorf("table was not published: %v", err)
	}
	if _, err = os.Stat(filepath.Join(dir, "tf_rs_1.000E+01_x_1.000E-05_nBs_1.000E+00.nc")); err == nil {
		t.Error("cell outside the partition was swept")
	}

	r, err := tfgen.ReadReport(tfgen.ReportPath(dir, "1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Cells) != 1 || r.Cells[0].Status != tfgen.StatusDone {
		t.Errorf("status: %+v", r.Cells)
	}
	if r.Completed != r.Total {
		t.Errorf("completed %d of %d calls", r.Completed, r.Total)
	}
}

func TestVersion(t *testing.T) {
	var b bytes.Buffer
	Root.SetOut(&b)
	Root.SetArgs([]string{"version"})
	defer Root.SetOut(nil)
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if want := "tfgen v" + tfgen.Version; !strings.Contains(b.String(), want) {
		t.Errorf("have %q, want %q", b.String(), want)
	}
}

func TestPrintBins(t *testing.T) {
	cfg := testConfig(map[string]interface{}{"Bins.Electron.Count": 3})
	var b bytes.Buffer
	if err := PrintBins(&b, cfg, "electron"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if len(lines) != 4 {
		t.Errorf("have %d lines, want 4:\n%s", len(lines), b.String())
	}
	if err := PrintBins(&b, cfg, "neutrino"); err == nil {
		t.Error("expected an error")
	}
}
