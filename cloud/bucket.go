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

// Package cloud publishes finished tables to blob storage.
package cloud

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// OpenBucket returns the blob storage bucket specified by location and
// the key prefix within it. location must be in the format
// 'provider://name/prefix' where provider is the name of the storage
// provider, name is the name of the bucket and prefix is optional.
// The accepted storage providers are "file" for the local filesystem,
// "gs" for Google Cloud Storage, and "s3" for AWS S3. For "file" the
// whole path is the bucket directory, which is created if necessary,
// and the prefix is empty.
func OpenBucket(ctx context.Context, location string) (*blob.Bucket, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, "", fmt.Errorf("cloud: parsing bucket location: %v", err)
	}
	prefix := strings.Trim(u.Path, "/")
	var b *blob.Bucket
	switch u.Scheme {
	case "file":
		dir := path.Join("/", u.Host, u.Path)
		if err = os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, "", fmt.Errorf("cloud: creating bucket directory: %v", err)
		}
		b, err = fileblob.OpenBucket(dir, nil)
		prefix = ""
	case "gs":
		b, err = gsBucket(ctx, u.Hostname())
	case "s3":
		b, err = s3Bucket(ctx, u.Hostname())
	default:
		return nil, "", fmt.Errorf("cloud: invalid storage provider %q", u.Scheme)
	}
	if err != nil {
		return nil, "", fmt.Errorf("cloud: opening bucket %s: %v", location, err)
	}
	return b, prefix, nil
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	// See here for information on credentials:
	// https://cloud.google.com/docs/authentication/getting-started
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, c, name, nil)
}

// s3Bucket opens an s3 storage bucket. It assumes the following
// environment variables are set: AWS_REGION, AWS_ACCESS_KEY_ID, and
// AWS_SECRET_ACCESS_KEY.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s, err := session.NewSession(c)
	if err != nil {
		return nil, err
	}
	return s3blob.OpenBucket(ctx, s, name, nil)
}
