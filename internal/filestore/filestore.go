// Package filestore keeps uploaded documents and certificates on local disk and
// hands back opaque references. Jobs store references only.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const refScheme = "file://"

var ErrEmpty = errors.New("empty file")

type Local struct {
	Dir string
}

func NewLocal(dir string) (Local, error) {
	if strings.TrimSpace(dir) == "" {
		return Local{}, errors.New("files dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Local{}, err
	}
	return Local{Dir: dir}, nil
}

// Put writes content under a fresh uuid directory and returns its reference.
func (l Local) Put(ctx context.Context, name string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(content) == 0 {
		return "", ErrEmpty
	}
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "attachment"
	}
	id := uuid.NewString()
	dir := filepath.Join(l.Dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, base), content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", base, err)
	}
	return refScheme + id + "/" + base, nil
}

// Open resolves a reference produced by Put. References that do not resolve
// to a stored file match fs.ErrNotExist.
func (l Local) Open(ref string) (io.ReadCloser, error) {
	rel, ok := strings.CutPrefix(ref, refScheme)
	if !ok {
		return nil, fmt.Errorf("unknown file reference %q: %w", ref, fs.ErrNotExist)
	}
	id, name, ok := strings.Cut(rel, "/")
	if !ok || uuid.Validate(id) != nil || name != filepath.Base(name) {
		return nil, fmt.Errorf("malformed file reference %q: %w", ref, fs.ErrNotExist)
	}
	return os.Open(filepath.Join(l.Dir, id, name))
}
