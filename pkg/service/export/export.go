package export

import (
	"context"
	"path"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
)

// ErrInvalidName is returned when an export name would escape the export root
var ErrInvalidName = goerr.New("invalid export name")

// ErrUnknownLocation is returned by Read for a location this store did not produce
var ErrUnknownLocation = goerr.New("location is not managed by this export store")

const gcsScheme = "gs://"

// New returns an export store for target. A gs://bucket[/prefix] target writes to Cloud
// Storage; anything else is treated as a local directory.
func New(ctx context.Context, target string) (interfaces.ExportStore, error) {
	if strings.HasPrefix(target, gcsScheme) {
		bucket, prefix := splitGCSPath(target)
		if bucket == "" {
			return nil, goerr.New("bucket name is required", goerr.V("target", target))
		}
		return NewGCS(ctx, bucket, prefix)
	}
	return NewLocal(target)
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return goerr.Wrap(ErrInvalidName, "export name must be a plain file name", goerr.V("name", name))
	}
	return nil
}

func splitGCSPath(location string) (bucket, object string) {
	rest := strings.TrimPrefix(location, gcsScheme)
	bucket, object, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(path.Clean("/"+object), "/")
}
