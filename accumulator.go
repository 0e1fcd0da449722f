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

	"github.com/ctessum/sparse"
)

// Floor is the initial value of every table entry. Tables never hold an
// exact zero so they can be interpolated in log space.
const Floor = 1e-100

// newTable returns a rows×cols array filled with Floor.
func newTable(rows, cols int) *sparse.DenseArray {
	a := sparse.ZerosDense(rows, cols)
	for i := range a.Elements {
		a.Elements[i] = Floor
	}
	return a
}

// Cell holds the tables for one (redshift, ionization, density) cell.
// Columns are indexed by photon bin; only the columns of swept injection
// energies are ever written.
type Cell struct {
	Key CellKey

	HepTF   *sparse.DenseArray // [photon bin][injection bin] high-energy photons
	LepTF   *sparse.DenseArray // [photon bin][injection bin] low-energy photons
	LeeTF   *sparse.DenseArray // [electron bin][injection bin] low-energy electrons
	HedTF   *sparse.DenseArray // [deposition channel][injection bin]
	CMBLoss []float64          // [injection bin]

	// LowerBound holds the value returned by the most recent call.
	LowerBound float64

	written []bool
}

// NewCell allocates the Floor-valued tables for key with nPhot photon
// bins and nElec electron bins.
func NewCell(key CellKey, nPhot, nElec int) *Cell {
	c := &Cell{
		Key:        key,
		HepTF:      newTable(nPhot, nPhot),
		LepTF:      newTable(nPhot, nPhot),
		LeeTF:      newTable(nElec, nPhot),
		HedTF:      newTable(NumDepositionChannels, nPhot),
		CMBLoss:    make([]float64, nPhot),
		LowerBound: Floor,
		written:    make([]bool, nPhot),
	}
	for i := range c.CMBLoss {
		c.CMBLoss[i] = Floor
	}
	return c
}

// Accumulate writes the tabulated sub-step of r into injection column k.
// Spectra are converted from per-energy to per-bin values with the bin
// widths and all quantities are halved, which is the normalization of
// the solver's combined sub-step output. Each column can be written only
// once. r must have been checked with ValidateResponse.
func (c *Cell) Accumulate(k int, r *SolverResponse, photWidths, elecWidths []float64) error {
	if k < 0 || k >= len(c.written) {
		return fmt.Errorf("tfgen: injection index %d out of range [0, %d)", k, len(c.written))
	}
	if c.written[k] {
		return fmt.Errorf("tfgen: injection column %d of %v already written", k, c.Key)
	}
	if len(photWidths) != c.HepTF.Shape[0] || len(elecWidths) != c.LeeTF.Shape[0] {
		return fmt.Errorf("tfgen: bin widths (%d, %d) don't match tables (%d, %d)",
			len(photWidths), len(elecWidths), c.HepTF.Shape[0], c.LeeTF.Shape[0])
	}
	const s = ResultSubstep
	for i, w := range photWidths {
		c.HepTF.Set(r.PhotonSpectrum[i][s]*w/2, i, k)
		c.LepTF.Set(r.LowEnergyPhoton[i][s]*w/2, i, k)
	}
	for i, w := range elecWidths {
		c.LeeTF.Set(r.LowEnergyElectron[i][s]*w/2, i, k)
	}
	for ch, v := range r.HighEnergyDeposition[s] {
		c.HedTF.Set(v/2, ch, k)
	}
	c.CMBLoss[k] = r.CMBLoss[s] / 2
	c.LowerBound = r.LowerBound[s]
	c.written[k] = true
	return nil
}

// Written returns the injection columns that have been written.
func (c *Cell) Written() []int {
	var o []int
	for k, w := range c.written {
		if w {
			o = append(o, k)
		}
	}
	return o
}

// Column returns a copy of column j of a two-dimensional table.
func Column(a *sparse.DenseArray, j int) []float64 {
	o := make([]float64, a.Shape[0])
	for i := range o {
		o[i] = a.Get(i, j)
	}
	return o
}
