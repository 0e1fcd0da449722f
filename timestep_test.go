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
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

func TestTimeStepPolicy_fixed(t *testing.T) {
	p := &TimeStepPolicy{Mode: FixedDlnz, FixedStep: 0.04}
	for _, rs := range []float64{5, 10, 50, 3000} {
		dlnz, err := p.Dlnz(rs)
		if err != nil {
			t.Fatal(err)
		}
		if dlnz != 0.04 {
			t.Errorf("rs=%g: dlnz %g, want 0.04", rs, dlnz)
		}
	}
}

func TestTimeStepPolicy_conformal(t *testing.T) {
	p := &TimeStepPolicy{
		Mode:           ConformalTime,
		DeltaT:         1e13,
		RefScaleFactor: 0.1,
		SpeedOfLight:   SpeedOfLight,
		Cosmology:      Planck18,
	}
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	cfdt := p.ConformalStep()
	if want := 1e14; !scalar.EqualWithinRel(cfdt, want, 1e-12) {
		t.Errorf("conformal step %g, want %g", cfdt, want)
	}
	prev := 0.
	for _, rs := range []float64{5, 10, 20, 40} {
		dlnz, err := p.Dlnz(rs)
		if err != nil {
			t.Fatal(err)
		}
		if !(dlnz > 0) || math.IsInf(dlnz, 0) {
			t.Errorf("rs=%g: dlnz %g", rs, dlnz)
		}
		// The conformal time step implied by dlnz is the same at every redshift.
		if implied := dlnz / p.Cosmology.Hubble(rs) * rs; !scalar.EqualWithinRel(implied, cfdt, 1e-12) {
			t.Errorf("rs=%g: implied conformal step %g, want %g", rs, implied, cfdt)
		}
		// Matter domination: dlnz grows as sqrt(1+z).
		if dlnz <= prev {
			t.Errorf("rs=%g: dlnz %g should increase with redshift", rs, dlnz)
		}
		prev = dlnz
	}
}

func TestHubble(t *testing.T) {
	// H(z=0) = H0.
	h0 := Planck18.H0 * 1e5 / mpc
	want := h0 * math.Sqrt(Planck18.OmegaM+Planck18.OmegaRad+Planck18.OmegaLambda)
	if have := Planck18.Hubble(1); !scalar.EqualWithinRel(have, want, 1e-12) {
		t.Errorf("have %g, want %g", have, want)
	}
}

func TestTimeStepPolicy_validate(t *testing.T) {
	tests := []struct {
		name  string
		p     TimeStepPolicy
		field string
	}{
		{"unknown mode", TimeStepPolicy{Mode: "adaptive"}, "TimeStep.Mode"},
		{"zero dlnz", TimeStepPolicy{Mode: FixedDlnz}, "TimeStep.Dlnz"},
		{"negative dlnz", TimeStepPolicy{Mode: FixedDlnz, FixedStep: -1}, "TimeStep.Dlnz"},
		{"no delta t", TimeStepPolicy{Mode: ConformalTime, RefScaleFactor: 1, SpeedOfLight: SpeedOfLight, Cosmology: Planck18}, "TimeStep.DeltaT"},
		{"no scale factor", TimeStepPolicy{Mode: ConformalTime, DeltaT: 1, SpeedOfLight: SpeedOfLight, Cosmology: Planck18}, "TimeStep.RefScaleFactor"},
		{"no cosmology", TimeStepPolicy{Mode: ConformalTime, DeltaT: 1, RefScaleFactor: 1, SpeedOfLight: SpeedOfLight}, "Cosmology"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.p.Validate()
			ce, ok := err.(*ConfigurationError)
			if !ok {
				t.Fatalf("expected a ConfigurationError, have %v", err)
			}
			if ce.Field != test.field {
				t.Errorf("field: have %s, want %s", ce.Field, test.field)
			}
			if _, err = test.p.Dlnz(10); err == nil {
				t.Error("Dlnz should fail for an invalid policy")
			}
		})
	}
}
