package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Local writes exported documents into a directory
type Local struct {
	dir string
}

// NewLocal creates the directory when missing
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, goerr.New("export directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve export directory", goerr.V("dir", dir))
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, goerr.Wrap(err, "failed to create export directory", goerr.V("dir", abs))
	}
	return &Local{dir: abs}, nil
}

// Write stores data atomically: a partially written file is never visible under name
func (l *Local) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", goerr.Wrap(err, "export cancelled", goerr.V("name", name))
	}

	tmp, err := os.CreateTemp(l.dir, "."+name+".*.tmp")
	if err != nil {
		return "", goerr.Wrap(err, "failed to create temporary export file", goerr.V("dir", l.dir))
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", goerr.Wrap(err, "failed to write export file", goerr.V("name", name))
	}
	if err := tmp.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to close export file", goerr.V("name", name))
	}

	dst := filepath.Join(l.dir, name)
	if err := os.Rename(tmpName, dst); err != nil {
		return "", goerr.Wrap(err, "failed to move export file into place", goerr.V("path", dst))
	}
	return dst, nil
}

// Read only accepts paths inside the export directory
func (l *Local) Read(ctx context.Context, location string) ([]byte, error) {
	clean := filepath.Clean(location)
	if !strings.HasPrefix(clean, l.dir+string(filepath.Separator)) {
		return nil, goerr.Wrap(ErrUnknownLocation, "path is outside the export directory",
			goerr.V("location", location), goerr.V("dir", l.dir))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read export file", goerr.V("location", location))
	}
	return data, nil
}

// Dir returns the absolute export directory
func (l *Local) Dir() string {
	return l.dir
}
