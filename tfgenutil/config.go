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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/tfgen"
	"github.com/spf13/cast"
)

// configError returns a tfgen.ConfigurationError for the given option.
func configError(field string, err error) error {
	return &tfgen.ConfigurationError{Field: field, Err: err}
}

// toFloat64SliceE converts a configuration value to a list of numbers.
// The value may come from a configuration file (a list), or from a
// command-line flag or environment variable (a JSON list or
// comma-separated numbers).
func toFloat64SliceE(i interface{}) ([]float64, error) {
	switch v := i.(type) {
	case []float64:
		return v, nil
	case []interface{}:
		o := make([]float64, len(v))
		for j, val := range v {
			f, err := cast.ToFloat64E(val)
			if err != nil {
				return nil, err
			}
			o[j] = f
		}
		return o, nil
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "[") {
			var o []float64
			if err := json.Unmarshal([]byte(s), &o); err != nil {
				return nil, err
			}
			return o, nil
		}
		var o []float64
		for _, f := range strings.Split(s, ",") {
			if f = strings.TrimSpace(f); f == "" {
				continue
			}
			x, err := cast.ToFloat64E(f)
			if err != nil {
				return nil, err
			}
			o = append(o, x)
		}
		return o, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid type %T for a list of numbers", i)
	}
}

// getFloat64Slice reads a list option.
func getFloat64Slice(cfg *viper.Viper, name string) ([]float64, error) {
	o, err := toFloat64SliceE(cfg.Get(name))
	if err != nil {
		return nil, configError(name, err)
	}
	if len(o) == 0 {
		return nil, configError(name, fmt.Errorf("no values specified"))
	}
	return o, nil
}

// Bins returns the photon and electron energy grids.
func Bins(cfg *viper.Viper) (photon, electron []tfgen.EnergyBin, err error) {
	photon, err = tfgen.BuildBins(
		cfg.GetInt("Bins.Photon.Count"),
		cfg.GetFloat64("Bins.Photon.Low"),
		cfg.GetFloat64("Bins.Photon.High"), 0)
	if err != nil {
		return nil, nil, err
	}
	electron, err = tfgen.BuildBins(
		cfg.GetInt("Bins.Electron.Count"),
		cfg.GetFloat64("Bins.Electron.Low"),
		cfg.GetFloat64("Bins.Electron.High"), tfgen.ElectronMass)
	if err != nil {
		return nil, nil, err
	}
	return photon, electron, nil
}

// GridSpec returns the grid to sweep, restricted to the partition
// selected by the partition, begin and end options.
func GridSpec(cfg *viper.Viper, photon []tfgen.EnergyBin) (*tfgen.GridSpec, error) {
	x, err := getFloat64Slice(cfg, "Grid.Ionization")
	if err != nil {
		return nil, err
	}
	nBs, err := getFloat64Slice(cfg, "Grid.Density")
	if err != nil {
		return nil, err
	}
	rs, err := getFloat64Slice(cfg, "Grid.Redshift")
	if err != nil {
		return nil, err
	}
	g, err := tfgen.NewGridSpec(x, nBs, rs, tfgen.Representatives(photon))
	if err != nil {
		return nil, err
	}
	begin, end := cfg.GetInt("begin"), cfg.GetInt("end")
	if p := cfg.GetInt("partition"); p >= 0 {
		begin, end = p, p+1
	}
	return g.Partition(begin, end)
}

// TimeStepPolicy returns the time step policy.
func TimeStepPolicy(cfg *viper.Viper) (*tfgen.TimeStepPolicy, error) {
	p := &tfgen.TimeStepPolicy{
		Mode:           strings.ToLower(cfg.GetString("TimeStep.Mode")),
		FixedStep:      cfg.GetFloat64("TimeStep.Dlnz"),
		DeltaT:         cfg.GetFloat64("TimeStep.DeltaT"),
		RefScaleFactor: cfg.GetFloat64("TimeStep.RefScaleFactor"),
		SpeedOfLight:   cfg.GetFloat64("TimeStep.SpeedOfLight"),
		Cosmology: tfgen.Cosmology{
			H0:          cfg.GetFloat64("Cosmology.H0"),
			OmegaM:      cfg.GetFloat64("Cosmology.OmegaM"),
			OmegaRad:    cfg.GetFloat64("Cosmology.OmegaRad"),
			OmegaLambda: cfg.GetFloat64("Cosmology.OmegaLambda"),
		},
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// StaticConfig returns the solver switches.
func StaticConfig(cfg *viper.Viper) (*tfgen.StaticConfig, error) {
	const p = "Solver.Static."
	c := &tfgen.StaticConfig{
		Binning:          cfg.GetString(p + "Binning"),
		ElectronMethod:   cfg.GetString(p + "ElectronMethod"),
		FsMethod:         cfg.GetString(p + "FsMethod"),
		SeparateHighEng:  cfg.GetBool(p + "SeparateHighEng"),
		SeparateHelium:   cfg.GetBool(p + "SeparateHelium"),
		HeliumTLA:        cfg.GetBool(p + "HeliumTLA"),
		Backreaction:     cfg.GetBool(p + "Backreaction"),
		ReionSwitch:      cfg.GetBool(p + "ReionSwitch"),
		StructBoost:      cfg.GetBool(p + "StructBoost"),
		Distortion:       cfg.GetBool(p + "Distortion"),
		FexcSwitch:       cfg.GetBool(p + "FexcSwitch"),
		ICSOnly:          cfg.GetBool(p + "ICSOnly"),
		CMBTreatment:     cfg.GetString(p + "CMBTreatment"),
		CoarsenFactor:    cfg.GetInt(p + "CoarsenFactor"),
		MaxODESteps:      cfg.GetInt(p + "MaxODESteps"),
		RelTolerance:     cfg.GetFloat64(p + "RelTolerance"),
		HighEngThreshold: cfg.GetFloat64(p + "HighEngThreshold"),
		LowEngThreshold:  cfg.GetFloat64(p + "LowEngThreshold"),
		ClumpingFactor:   cfg.GetFloat64(p + "ClumpingFactor"),
		IncludeTwoPhoton: cfg.GetBool(p + "IncludeTwoPhoton"),
	}
	if c.CMBTreatment != "ICS" && c.CMBTreatment != "none" {
		return nil, configError(p+"CMBTreatment", fmt.Errorf("must be \"ICS\" or \"none\" but is %q", c.CMBTreatment))
	}
	if c.CoarsenFactor < 1 {
		return nil, configError(p+"CoarsenFactor", fmt.Errorf("must be >= 1 but is %d", c.CoarsenFactor))
	}
	if c.MaxODESteps < 1 {
		return nil, configError(p+"MaxODESteps", fmt.Errorf("must be >= 1 but is %d", c.MaxODESteps))
	}
	if !(c.RelTolerance > 0) {
		return nil, configError(p+"RelTolerance", fmt.Errorf("must be > 0 but is %g", c.RelTolerance))
	}
	return c, nil
}

// checkOutputDir expands any environment variables in the output
// directory.
func checkOutputDir(dir string) (string, error) {
	dir = os.ExpandEnv(dir)
	if dir == "" {
		return "", configError("OutputDir", fmt.Errorf("not specified"))
	}
	return dir, nil
}

// makeOutputDir creates the output directory if it doesn't exist.
func makeOutputDir(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return configError("OutputDir", err)
	}
	return nil
}

// checkSolverLogFile fills in a default value for the solver log file
// path if one isn't specified.
func checkSolverLogFile(logFile, outputDir string) string {
	if logFile == "" {
		return filepath.Join(outputDir, "solver.log")
	}
	return os.ExpandEnv(logFile)
}

// checkTimeout parses the solver timeout.
func checkTimeout(i interface{}) (time.Duration, error) {
	d, err := cast.ToDurationE(i)
	if err != nil {
		return 0, configError("Solver.Timeout", err)
	}
	if d < 0 {
		return 0, configError("Solver.Timeout", fmt.Errorf("must be >= 0 but is %v", d))
	}
	return d, nil
}

// checkRetries reads a retry count.
func checkRetries(cfg *viper.Viper, name string) (uint64, error) {
	n := cfg.GetInt(name)
	if n < 0 {
		return 0, configError(name, fmt.Errorf("must be >= 0 but is %d", n))
	}
	return uint64(n), nil
}
