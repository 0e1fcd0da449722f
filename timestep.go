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
	"math"
)

// Time-step modes.
const (
	FixedDlnz     = "dlnz"
	ConformalTime = "conformal"
)

// Physical constants.
const (
	// SpeedOfLight is the speed of light [cm/s].
	SpeedOfLight = 2.99792458e10

	// mpc is one megaparsec [cm].
	mpc = 3.0856775814913673e24
)

// Cosmology holds the background cosmology used to convert a conformal
// time step into a logarithmic redshift step.
type Cosmology struct {
	H0          float64 // Hubble constant [km/s/Mpc]
	OmegaM      float64 // matter density parameter
	OmegaRad    float64 // radiation density parameter
	OmegaLambda float64 // dark energy density parameter
}

// Planck18 is the Planck 2018 cosmology.
var Planck18 = Cosmology{
	H0:          67.66,
	OmegaM:      0.30966,
	OmegaRad:    9.16e-5,
	OmegaLambda: 0.68885,
}

// Hubble returns the Hubble rate [1/s] at rs = 1+z.
func (c Cosmology) Hubble(rs float64) float64 {
	h0 := c.H0 * 1e5 / mpc
	return h0 * math.Sqrt(c.OmegaM*rs*rs*rs+c.OmegaRad*rs*rs*rs*rs+c.OmegaLambda)
}

func (c Cosmology) valid() bool {
	return c.H0 > 0 && c.OmegaM >= 0 && c.OmegaRad >= 0 && c.OmegaLambda >= 0 &&
		c.OmegaM+c.OmegaRad+c.OmegaLambda > 0
}

// TimeStepPolicy computes the logarithmic redshift step dlnz used for each
// solver call. The mode is chosen once for the whole run.
//
// In FixedDlnz mode the step is FixedStep at every redshift.
//
// In ConformalTime mode the step corresponds to a fixed conformal time
// step. DeltaT is the proper time step [s] at the reference scale factor
// RefScaleFactor; the conformal distance step is c·DeltaT/RefScaleFactor
// and the conformal time step cfdt is that distance divided by c. At 1+z
// the physical step is cfdt/(1+z) and dlnz = dt·H(z).
type TimeStepPolicy struct {
	Mode string

	FixedStep float64 // dlnz in FixedDlnz mode

	DeltaT         float64 // [s]
	RefScaleFactor float64
	SpeedOfLight   float64 // [cm/s]
	Cosmology      Cosmology
}

// Validate checks that the parameters needed by the selected mode are
// present.
func (p *TimeStepPolicy) Validate() error {
	switch p.Mode {
	case FixedDlnz:
		if !(p.FixedStep > 0) || math.IsInf(p.FixedStep, 0) {
			return configErrorf("TimeStep.Dlnz", "must be finite and > 0 in %q mode but is %g", FixedDlnz, p.FixedStep)
		}
	case ConformalTime:
		vals := []float64{p.DeltaT, p.RefScaleFactor, p.SpeedOfLight}
		names := []string{"TimeStep.DeltaT", "TimeStep.RefScaleFactor", "TimeStep.SpeedOfLight"}
		for i, v := range vals {
			if !(v > 0) || math.IsInf(v, 0) {
				return configErrorf(names[i], "must be finite and > 0 in %q mode but is %g", ConformalTime, v)
			}
		}
		if !p.Cosmology.valid() {
			return configErrorf("Cosmology", "invalid cosmology %+v", p.Cosmology)
		}
	default:
		return configErrorf("TimeStep.Mode", "must be %q or %q but is %q", FixedDlnz, ConformalTime, p.Mode)
	}
	return nil
}

// ConformalDistance returns the comoving distance [cm] light travels in
// one conformal time step.
func (p *TimeStepPolicy) ConformalDistance() float64 {
	return p.SpeedOfLight * p.DeltaT / p.RefScaleFactor
}

// ConformalStep returns the conformal time step cfdt [s].
func (p *TimeStepPolicy) ConformalStep() float64 {
	return p.ConformalDistance() / p.SpeedOfLight
}

// Dlnz returns the logarithmic redshift step at rs = 1+z.
func (p *TimeStepPolicy) Dlnz(rs float64) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if p.Mode == FixedDlnz {
		return p.FixedStep, nil
	}
	if !(rs > 0) || math.IsInf(rs, 0) {
		return 0, configErrorf("Grid.Redshift", "1+z must be finite and > 0 but is %g", rs)
	}
	dt := p.ConformalStep() / rs
	dlnz := dt * p.Cosmology.Hubble(rs)
	if !(dlnz > 0) || math.IsInf(dlnz, 0) {
		return 0, configErrorf("TimeStep", "dlnz at 1+z=%g is %g", rs, dlnz)
	}
	return dlnz, nil
}

func (p *TimeStepPolicy) String() string {
	if p.Mode == ConformalTime {
		return fmt.Sprintf("conformal time step %.4e s (%.4e comoving Mpc)", p.ConformalStep(), p.ConformalDistance()/mpc)
	}
	return fmt.Sprintf("fixed dlnz %g", p.FixedStep)
}
