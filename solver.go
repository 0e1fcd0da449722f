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
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/spatialmodel/tfgen/internal/hash"
)

const (
	// NumSubsteps is the number of logarithmic sub-steps requested from the
	// solver for each call.
	NumSubsteps = 2

	// ResultSubstep is the sub-step whose output is tabulated. Sub-step 0
	// is an intermediate state for the requested step size and is discarded.
	ResultSubstep = 1

	// NumDepositionChannels is the number of high-energy deposition channels.
	NumDepositionChannels = 4

	// DeltaChannel is the injection spectrum type: a delta function at the
	// injection energy.
	DeltaChannel = "delta"
)

// Solver computes the outcome of injecting energy at one grid point for
// NumSubsteps logarithmic sub-steps. Implementations may block for a long
// and variable time.
type Solver interface {
	Solve(ctx context.Context, req *SolverRequest) (*SolverResponse, error)
}

// StaticConfig holds the physical-model switches that are constant for a
// whole run. It is built once and shared, read-only, by every call.
type StaticConfig struct {
	Binning          string  // abscissa binning mode
	ElectronMethod   string  // level of detail for electron heating and ionization
	FsMethod         string  // deposition fraction method; "He" separates helium
	SeparateHighEng  bool    // separate high-energy photons from low-energy ones
	SeparateHelium   bool    // track helium ionization separately
	HeliumTLA        bool    // evolve helium in the three-level atom
	Backreaction     bool    // let the injected energy change ionization history
	ReionSwitch      bool    // include reionization
	StructBoost      bool    // include structure formation boost
	Distortion       bool    // track spectral distortions
	FexcSwitch       bool    // use excitation fractions
	ICSOnly          bool    // only inverse Compton scattering for electrons
	CMBTreatment     string  // "ICS" or "none"
	CoarsenFactor    int     // transfer function coarsening factor
	MaxODESteps      int     // maximum steps for the ionization-history ODE solver
	RelTolerance     float64 // relative tolerance for the ODE solver
	HighEngThreshold float64 // high-energy photon threshold [eV]
	LowEngThreshold  float64 // low-energy electron threshold [eV]
	ClumpingFactor   float64 // baryon clumping factor
	IncludeTwoPhoton bool    // include 2s→1s two-photon decay
}

// DefaultStaticConfig returns the switches used for production tables.
func DefaultStaticConfig() *StaticConfig {
	return &StaticConfig{
		Binning:          "DH",
		ElectronMethod:   "new",
		FsMethod:         "He",
		SeparateHighEng:  true,
		SeparateHelium:   true,
		HeliumTLA:        true,
		Backreaction:     false,
		ReionSwitch:      false,
		StructBoost:      false,
		Distortion:       false,
		FexcSwitch:       true,
		ICSOnly:          false,
		CMBTreatment:     "ICS",
		CoarsenFactor:    1,
		MaxODESteps:      1000,
		RelTolerance:     1e-4,
		HighEngThreshold: 3000,
		LowEngThreshold:  3000,
		ClumpingFactor:   1,
		IncludeTwoPhoton: true,
	}
}

// Fingerprint returns a hash identifying the configuration, recorded in
// every table so tables from different configurations can be told apart.
func (c *StaticConfig) Fingerprint() string {
	return hash.Hash(*c)
}

// Checkpoint is the solver's warm state: it is produced by one call and
// consumed by the next call in the same cell. Its contents are opaque to
// the sweep.
type Checkpoint struct {
	// Cell is the cell the checkpoint was produced for. Solvers return
	// the request's Cell unchanged.
	Cell CellKey

	ElectronProcesses       json.RawMessage
	PhotonElectronProcesses json.RawMessage
}

// Profile holds per-stage timings for one solver call.
type Profile struct {
	Labels    []string
	Durations []float64 // [s]
}

func (p *Profile) String() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for i, l := range p.Labels {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %.4f s", l, p.Durations[i])
	}
	return b.String()
}

// SolverRequest is the input to a solver call.
type SolverRequest struct {
	Checkpoint         *Checkpoint // nil at the start of a cell
	Cell               CellKey
	Dlnz               float64
	RsInitial          float64 // 1+z
	NumSubsteps        int
	InjectionEnergy    float64 // [eV]
	Channel            string
	IonizationOverride float64 // xH
	HeliumOverride     float64 // xHe
	DensityMultiplier  float64
	Static             *StaticConfig
}

// SolverResponse is the output of a solver call. Spectra are indexed
// [bin][substep]; HighEnergyDeposition is indexed [substep][channel].
type SolverResponse struct {
	PhotonSpectrum       [][]float64
	LowEnergyPhoton      [][]float64
	LowEnergyElectron    [][]float64
	HighEnergyDeposition [][]float64
	CMBLoss              []float64
	LowerBound           []float64
	Checkpoint           *Checkpoint
	Profile              Profile
}

// ValidateResponse checks that r has the shape expected for nPhot photon
// bins and nElec electron bins, that the values used for tabulation are
// finite and non-negative, and that the returned checkpoint belongs to
// cell. It returns a *SolverInvocationError otherwise.
func ValidateResponse(r *SolverResponse, cell CellKey, injE float64, nPhot, nElec int) error {
	fail := func(format string, args ...interface{}) error {
		return &SolverInvocationError{Cell: cell, InjectionEnergy: injE, Err: fmt.Errorf(format, args...)}
	}
	if r == nil {
		return fail("empty response")
	}
	spectra := []struct {
		name string
		v    [][]float64
		n    int
	}{
		{"photon spectrum", r.PhotonSpectrum, nPhot},
		{"low-energy photon spectrum", r.LowEnergyPhoton, nPhot},
		{"low-energy electron spectrum", r.LowEnergyElectron, nElec},
	}
	for _, s := range spectra {
		if len(s.v) != s.n {
			return fail("%s has %d bins; expected %d", s.name, len(s.v), s.n)
		}
		for i, row := range s.v {
			if len(row) != NumSubsteps {
				return fail("%s bin %d has %d sub-steps; expected %d", s.name, i, len(row), NumSubsteps)
			}
			if err := checkValue(row[ResultSubstep]); err != nil {
				return fail("%s bin %d: %v", s.name, i, err)
			}
		}
	}
	if len(r.HighEnergyDeposition) != NumSubsteps {
		return fail("high-energy deposition has %d sub-steps; expected %d", len(r.HighEnergyDeposition), NumSubsteps)
	}
	for i, row := range r.HighEnergyDeposition {
		if len(row) != NumDepositionChannels {
			return fail("high-energy deposition sub-step %d has %d channels; expected %d",
				i, len(row), NumDepositionChannels)
		}
	}
	for c, v := range r.HighEnergyDeposition[ResultSubstep] {
		if err := checkValue(v); err != nil {
			return fail("high-energy deposition channel %d: %v", c, err)
		}
	}
	for _, s := range []struct {
		name string
		v    []float64
	}{{"CMB loss", r.CMBLoss}, {"lower bound", r.LowerBound}} {
		if len(s.v) != NumSubsteps {
			return fail("%s has %d sub-steps; expected %d", s.name, len(s.v), NumSubsteps)
		}
		if err := checkValue(s.v[ResultSubstep]); err != nil {
			return fail("%s: %v", s.name, err)
		}
	}
	if len(r.Profile.Labels) != len(r.Profile.Durations) {
		return fail("profile has %d labels and %d durations", len(r.Profile.Labels), len(r.Profile.Durations))
	}
	if r.Checkpoint != nil && r.Checkpoint.Cell != cell {
		return fail("checkpoint belongs to %v", r.Checkpoint.Cell)
	}
	return nil
}

func checkValue(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("non-finite value %g", v)
	}
	if v < 0 {
		return fmt.Errorf("negative value %g", v)
	}
	return nil
}
