package export

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/utils/safe"
)

// GCS writes exported documents to a Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS connects with application default credentials
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.V("bucket", bucket))
	}
	return &GCS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (g *GCS) objectName(name string) string {
	if g.prefix == "" {
		return name
	}
	return g.prefix + "/" + name
}

func (g *GCS) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	object := g.objectName(name)
	w := g.client.Bucket(g.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/xml"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", goerr.Wrap(err, "failed to write export object",
			goerr.V("bucket", g.bucket), goerr.V("object", object))
	}
	// the object is committed by Close
	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to commit export object",
			goerr.V("bucket", g.bucket), goerr.V("object", object))
	}

	return gcsScheme + g.bucket + "/" + object, nil
}

func (g *GCS) Read(ctx context.Context, location string) ([]byte, error) {
	bucket, object := splitGCSPath(location)
	if !strings.HasPrefix(location, gcsScheme) || bucket != g.bucket || object == "" {
		return nil, goerr.Wrap(ErrUnknownLocation, "location does not belong to the export bucket",
			goerr.V("location", location), goerr.V("bucket", g.bucket))
	}

	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open export object", goerr.V("location", location))
	}
	defer safe.Close(ctx, r)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read export object", goerr.V("location", location))
	}
	return data, nil
}

// Close releases the storage client
func (g *GCS) Close() error {
	return g.client.Close()
}
