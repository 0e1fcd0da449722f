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

package cloud

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	src, err := ioutil.TempDir("", "tfgen_src")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(src)
	dst, err := ioutil.TempDir("", "tfgen_dst")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dst)

	local := filepath.Join(src, "tf_rs_1.000E+01_x_1.000E-05_nBs_1.000E-04.nc")
	data := []byte("table contents")
	if err = ioutil.WriteFile(local, data, 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewPublisher(ctx, "file://"+filepath.Join(dst, "run1"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ok, err := p.Exists(ctx, local)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("table should not exist before publishing")
	}
	if err = p.Publish(ctx, local); err != nil {
		t.Fatal(err)
	}
	ok, err = p.Exists(ctx, local)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("table should exist after publishing")
	}
	got, err := ioutil.ReadFile(filepath.Join(dst, "run1", filepath.Base(local)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("have %q, want %q", got, data)
	}
}

func TestPublisher_missingFile(t *testing.T) {
	dst, err := ioutil.TempDir("", "tfgen_dst")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dst)
	p := &Publisher{Location: "file://" + dst}
	defer p.Close()
	if err = p.Publish(context.Background(), filepath.Join(dst, "missing.nc")); err == nil {
		t.Fatal("expected an error")
	}
}

func TestOpenBucket_badProvider(t *testing.T) {
	if _, _, err := OpenBucket(context.Background(), "ftp://host/x"); err == nil {
		t.Fatal("expected an error")
	}
}
