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
	"reflect"
	"testing"
)

func TestGridSpec(t *testing.T) {
	photon := []float64{1, 50, 100, 200, 400}
	g, err := NewGridSpec([]float64{0.1, 0.5}, []float64{1, 10, 100}, []float64{10, 20}, photon)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := g.InjectionIndices(), []int{3, 4}; !reflect.DeepEqual(have, want) {
		t.Errorf("injection indices: have %v, want %v", have, want)
	}
	if have, want := g.InjectionEnergies(), []float64{200, 400}; !reflect.DeepEqual(have, want) {
		t.Errorf("injection energies: have %v, want %v", have, want)
	}
	if have, want := g.TotalWork(), 2*3*2*2; have != want {
		t.Errorf("total work: have %d, want %d", have, want)
	}
	if g.PartitionID() != "all" {
		t.Errorf("partition: have %s, want all", g.PartitionID())
	}

	cells := g.Cells()
	if len(cells) != g.NumCells() {
		t.Fatalf("have %d cells, want %d", len(cells), g.NumCells())
	}
	want0 := CellKey{Rs: 10, X: 0.1, NBs: 1}
	want1 := CellKey{Rs: 20, X: 0.1, NBs: 1, RsIndex: 1}
	wantLast := CellKey{Rs: 20, X: 0.5, NBs: 100, RsIndex: 1, XIndex: 1, NBsIndex: 2}
	if cells[0] != want0 || cells[1] != want1 || cells[len(cells)-1] != wantLast {
		t.Errorf("cell order: %v, %v, ..., %v", cells[0], cells[1], cells[len(cells)-1])
	}

	// Accessors return copies.
	x := g.Ionization()
	x[0] = 99
	inj := g.InjectionIndices()
	inj[0] = -1
	if g.Ionization()[0] != 0.1 || g.InjectionIndices()[0] != 3 {
		t.Error("grid was modified through an accessor")
	}
	photon[4] = 1
	if g.PhotonEnergies()[4] != 400 {
		t.Error("grid was modified through its input")
	}
}

func TestGridSpec_errors(t *testing.T) {
	ok := []float64{1}
	photon := []float64{1, 200}
	tests := []struct {
		name                 string
		x, nBs, rs, energies []float64
	}{
		{"empty ionization", nil, ok, ok, photon},
		{"empty density", ok, []float64{}, ok, photon},
		{"nan redshift", ok, ok, []float64{math.NaN()}, photon},
		{"no injection", ok, ok, ok, []float64{1, 100}},
		{"gap in injection", ok, ok, ok, []float64{200, 100, 300}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewGridSpec(test.x, test.nBs, test.rs, test.energies)
			if _, ok := err.(*ConfigurationError); !ok {
				t.Errorf("expected a ConfigurationError, have %v", err)
			}
		})
	}
}

func TestPartition(t *testing.T) {
	g, err := NewGridSpec([]float64{1e-5, 0.1, 0.5, 0.9}, []float64{1, 10}, []float64{10}, []float64{200, 300})
	if err != nil {
		t.Fatal(err)
	}
	parts := []struct {
		begin, end int
		id         string
	}{{0, 1, "0"}, {1, 3, "1-3"}, {3, -1, "3"}}
	seen := make(map[CellKey]bool)
	work := 0
	for _, p := range parts {
		pg, err := g.Partition(p.begin, p.end)
		if err != nil {
			t.Fatal(err)
		}
		if pg.PartitionID() != p.id {
			t.Errorf("partition id: have %s, want %s", pg.PartitionID(), p.id)
		}
		work += pg.TotalWork()
		for _, c := range pg.Cells() {
			if seen[c] {
				t.Errorf("cell %v is in more than one partition", c)
			}
			seen[c] = true
			if g.Ionization()[c.XIndex] != c.X {
				t.Errorf("cell %v has the wrong ionization index", c)
			}
		}
	}
	if work != g.TotalWork() {
		t.Errorf("partitions have %d work, want %d", work, g.TotalWork())
	}
	if len(seen) != g.NumCells() {
		t.Errorf("partitions cover %d cells, want %d", len(seen), g.NumCells())
	}

	for _, r := range [][2]int{{-1, 2}, {2, 2}, {0, 5}, {4, -1}} {
		if _, err := g.Partition(r[0], r[1]); err == nil {
			t.Errorf("partition %v: expected an error", r)
		}
	}
}
