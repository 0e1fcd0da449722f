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

// Package hash computes stable fingerprints of configuration values.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Hash returns a hex fingerprint of the given values. Values are gob
// encoded in order; if any of them can't be (e.g. it holds NaN values or
// unexported fields only) all of them are printed with spew instead.
func Hash(objects ...interface{}) string {
	h := fnv.New128a()
	e := gob.NewEncoder(h)
	for _, o := range objects {
		if err := e.Encode(o); err != nil {
			return spewHash(objects)
		}
	}
	return sum(h)
}

func spewHash(objects []interface{}) string {
	h := fnv.New128a()
	for _, o := range objects {
		printer.Fprintf(h, "%#v\n", o)
	}
	return sum(h)
}

func sum(h hash.Hash) string {
	b := h.Sum(nil)
	return fmt.Sprintf("%x", b[:h.Size()])
}
