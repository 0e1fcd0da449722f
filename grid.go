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

// InjectionThreshold is the representative photon energy [eV] above which
// photon bins are swept as injection energies.
const InjectionThreshold = 125.

// CellKey identifies one output table: a (redshift, ionization, density)
// grid cell. The index fields give the position of each value on its axis.
type CellKey struct {
	Rs       float64 // 1+z
	X        float64 // ionization fraction, used for both xH and xHe
	NBs      float64 // baryon density multiplier
	RsIndex  int
	XIndex   int
	NBsIndex int
}

func (k CellKey) String() string {
	return fmt.Sprintf("cell(rs=%.3e, x=%.3e, nBs=%.3e)", k.Rs, k.X, k.NBs)
}

// GridSpec describes the four sweep axes. It is not changed after
// construction; Partition returns a new GridSpec.
type GridSpec struct {
	ionization, density, redshift []float64
	photonEnergies                []float64

	// injection holds the indices into photonEnergies that are swept.
	injection []int

	// begin and end bound the ionization slice relative to the full axis.
	begin, end, fullIonization int
}

// NewGridSpec creates a grid from the ionization, density and redshift (1+z)
// axis values and the full sequence of photon-bin representative energies.
// The slices are copied.
func NewGridSpec(ionization, density, redshift, photonEnergies []float64) (*GridSpec, error) {
	axes := []struct {
		name string
		v    []float64
	}{
		{"Grid.Ionization", ionization},
		{"Grid.Density", density},
		{"Grid.Redshift", redshift},
		{"photon energies", photonEnergies},
	}
	for _, a := range axes {
		if len(a.v) == 0 {
			return nil, configErrorf(a.name, "axis is empty")
		}
		for i, v := range a.v {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, configErrorf(a.name, "value %d is not finite: %g", i, v)
			}
		}
	}
	g := &GridSpec{
		ionization:     copyFloats(ionization),
		density:        copyFloats(density),
		redshift:       copyFloats(redshift),
		photonEnergies: copyFloats(photonEnergies),
		begin:          0,
		end:            len(ionization),
		fullIonization: len(ionization),
	}
	var err error
	if g.injection, err = injectionIndices(g.photonEnergies); err != nil {
		return nil, err
	}
	return g, nil
}

// injectionIndices returns the contiguous tail of indices whose energy
// exceeds InjectionThreshold.
func injectionIndices(e []float64) ([]int, error) {
	first := -1
	for i, v := range e {
		if v > InjectionThreshold {
			if first < 0 {
				first = i
			}
		} else if first >= 0 {
			return nil, configErrorf("photon energies", "energies above %g eV are not a contiguous tail (index %d is %g eV)",
				InjectionThreshold, i, v)
		}
	}
	if first < 0 {
		return nil, configErrorf("photon energies", "no energies above the %g eV injection threshold", InjectionThreshold)
	}
	o := make([]int, 0, len(e)-first)
	for i := first; i < len(e); i++ {
		o = append(o, i)
	}
	return o, nil
}

func copyFloats(v []float64) []float64 {
	o := make([]float64, len(v))
	copy(o, v)
	return o
}

// Ionization returns the ionization axis values this grid sweeps.
func (g *GridSpec) Ionization() []float64 { return copyFloats(g.ionization) }

// Density returns the density-multiplier axis values.
func (g *GridSpec) Density() []float64 { return copyFloats(g.density) }

// Redshift returns the 1+z axis values.
func (g *GridSpec) Redshift() []float64 { return copyFloats(g.redshift) }

// PhotonEnergies returns the full photon-bin representative energies.
func (g *GridSpec) PhotonEnergies() []float64 { return copyFloats(g.photonEnergies) }

// InjectionIndices returns the photon-bin indices that are swept as
// injection energies, in increasing energy order.
func (g *GridSpec) InjectionIndices() []int {
	o := make([]int, len(g.injection))
	copy(o, g.injection)
	return o
}

// InjectionEnergies returns the swept injection energies [eV].
func (g *GridSpec) InjectionEnergies() []float64 {
	o := make([]float64, len(g.injection))
	for i, k := range g.injection {
		o[i] = g.photonEnergies[k]
	}
	return o
}

// NumCells returns the number of (redshift, ionization, density) cells.
func (g *GridSpec) NumCells() int {
	return len(g.ionization) * len(g.density) * len(g.redshift)
}

// TotalWork returns the number of solver calls needed to sweep the grid.
func (g *GridSpec) TotalWork() int {
	return g.NumCells() * len(g.injection)
}

// Partition returns a grid restricted to the ionization values with
// indices in [begin, end) of this grid's ionization axis. If end < 0 it
// is set to the length of the axis. Partitions with disjoint ranges never
// share cells, so they can be run as independent processes.
func (g *GridSpec) Partition(begin, end int) (*GridSpec, error) {
	n := len(g.ionization)
	if end < 0 {
		end = n
	}
	if begin < 0 || begin >= n || end > n || end <= begin {
		return nil, configErrorf("partition", "range [%d, %d) is outside the ionization axis of length %d",
			begin, end, n)
	}
	o := *g
	o.ionization = copyFloats(g.ionization[begin:end])
	o.begin = g.begin + begin
	o.end = g.begin + end
	return &o, nil
}

// PartitionID names the ionization slice covered by g, relative to the
// full axis: "all", a single index, or an index range "begin-end"
// (end exclusive).
func (g *GridSpec) PartitionID() string {
	switch {
	case g.begin == 0 && g.end == g.fullIonization:
		return "all"
	case g.end-g.begin == 1:
		return fmt.Sprint(g.begin)
	default:
		return fmt.Sprintf("%d-%d", g.begin, g.end)
	}
}

// Cells returns the cell keys of the grid in sweep order: ionization
// outermost, then density, then redshift. Index fields refer to the
// full (unpartitioned) ionization axis.
func (g *GridSpec) Cells() []CellKey {
	o := make([]CellKey, 0, g.NumCells())
	for ix, x := range g.ionization {
		for in, nBs := range g.density {
			for iz, rs := range g.redshift {
				o = append(o, CellKey{
					Rs: rs, X: x, NBs: nBs,
					RsIndex: iz, XIndex: g.begin + ix, NBsIndex: in,
				})
			}
		}
	}
	return o
}

// axisTotals returns the full lengths of the ionization, density and
// redshift axes, used for progress reporting.
func (g *GridSpec) axisTotals() (x, nBs, rs int) {
	return g.fullIonization, len(g.density), len(g.redshift)
}
