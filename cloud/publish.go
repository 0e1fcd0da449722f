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
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
)

// Publisher copies finished table files to a blob storage location.
// The bucket is opened on first use and kept open until Close is called.
type Publisher struct {
	// Location is the destination, e.g. "gs://bucket/tables/run1".
	Location string

	bucket *blob.Bucket
	prefix string
}

// NewPublisher opens the bucket at location.
func NewPublisher(ctx context.Context, location string) (*Publisher, error) {
	p := &Publisher{Location: location}
	if err := p.open(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) open(ctx context.Context) error {
	if p.bucket != nil {
		return nil
	}
	var err error
	p.bucket, p.prefix, err = OpenBucket(ctx, p.Location)
	return err
}

// Key returns the blob key localPath is published to.
func (p *Publisher) Key(localPath string) string {
	return path.Join(p.prefix, filepath.Base(localPath))
}

// Publish uploads the file at localPath. The blob only becomes visible
// once it has been completely written.
func (p *Publisher) Publish(ctx context.Context, localPath string) error {
	if err := p.open(ctx); err != nil {
		return err
	}
	r, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("cloud: opening file '%s' for upload: %v", localPath, err)
	}
	defer r.Close()
	key := p.Key(localPath)

	// Cancelling the writer's context aborts the upload on failure.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := p.bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: "application/x-netcdf"})
	if err != nil {
		return fmt.Errorf("cloud: creating writer for blob %s: %v", key, err)
	}
	if _, err = io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("cloud: uploading '%s' to %s: %v", localPath, key, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("cloud: writing blob %s: %v", key, err)
	}
	return nil
}

// Exists reports whether the table at localPath has already been
// published.
func (p *Publisher) Exists(ctx context.Context, localPath string) (bool, error) {
	if err := p.open(ctx); err != nil {
		return false, err
	}
	return p.bucket.Exists(ctx, p.Key(localPath))
}

// Close closes the bucket.
func (p *Publisher) Close() error {
	if p.bucket == nil {
		return nil
	}
	err := p.bucket.Close()
	p.bucket = nil
	return err
}
