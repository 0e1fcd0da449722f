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

	"gonum.org/v1/gonum/floats"
)

// Energy grid constants [eV].
const (
	// ElectronMass is the electron rest-mass energy.
	ElectronMass = 510998.95

	// DefaultNumBins is the number of photon and electron energy bins.
	DefaultNumBins = 500

	// DefaultBinLow and DefaultBinHigh are the edges of the default photon
	// grid and of the default electron kinetic-energy grid.
	DefaultBinLow  = 1e-4
	DefaultBinHigh = 5565952217145.328
)

// EnergyBin is one bin of a log-spaced energy grid.
type EnergyBin struct {
	Low, High float64 // bin edges [eV]
	Width     float64 // High - Low [eV]

	// Representative is the geometric mean of the (unshifted) edges plus
	// any offset the grid was built with.
	Representative float64
}

// BuildBins returns count bins with geometrically spaced edges
//
//	edge_i = low·(high/low)^(i/count), i = 0..count.
//
// The representative energy of each bin is the geometric mean of its
// edges. offset is added to the edges and to the representative energy
// after the spacing is computed, which is how the electron grid reports
// total energies for geometrically spaced kinetic energies; the width is
// unaffected. The result depends only on the arguments.
func BuildBins(count int, low, high, offset float64) ([]EnergyBin, error) {
	switch {
	case count <= 0:
		return nil, configErrorf("bins", "count must be > 0 but is %d", count)
	case !(low > 0) || math.IsInf(low, 0):
		return nil, configErrorf("bins", "low edge must be finite and > 0 but is %g", low)
	case !(high > low) || math.IsInf(high, 0):
		return nil, configErrorf("bins", "high edge must be finite and > low (%g) but is %g", low, high)
	case math.IsNaN(offset) || math.IsInf(offset, 0):
		return nil, configErrorf("bins", "offset must be finite but is %g", offset)
	}
	edges := make([]float64, count+1)
	floats.LogSpan(edges, low, high)
	// Pin the ends so the grid covers exactly [low, high].
	edges[0], edges[count] = low, high

	bins := make([]EnergyBin, count)
	for i := range bins {
		lo, hi := edges[i], edges[i+1]
		bins[i] = EnergyBin{
			Low:            lo + offset,
			High:           hi + offset,
			Width:          hi - lo,
			Representative: math.Sqrt(lo*hi) + offset,
		}
	}
	return bins, nil
}

// PhotonBins returns the default photon energy grid.
func PhotonBins() []EnergyBin {
	b, err := BuildBins(DefaultNumBins, DefaultBinLow, DefaultBinHigh, 0)
	if err != nil {
		panic(err)
	}
	return b
}

// ElectronBins returns the default electron energy grid, which has
// the same kinetic-energy spacing as the photon grid offset by the
// electron rest mass.
func ElectronBins() []EnergyBin {
	b, err := BuildBins(DefaultNumBins, DefaultBinLow, DefaultBinHigh, ElectronMass)
	if err != nil {
		panic(err)
	}
	return b
}

// Representatives returns the representative energies of bins.
func Representatives(bins []EnergyBin) []float64 {
	o := make([]float64, len(bins))
	for i, b := range bins {
		o[i] = b.Representative
	}
	return o
}

// Widths returns the widths of bins.
func Widths(bins []EnergyBin) []float64 {
	o := make([]float64, len(bins))
	for i, b := range bins {
		o[i] = b.Width
	}
	return o
}
