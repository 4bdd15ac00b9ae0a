package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// tempPrefix marks in-flight uploads. Names starting with a dot are never
// accepted from callers, so temporary files cannot collide with stored ones.
const tempPrefix = ".upload-"

// StoredFile describes an upload that has been written to the upload
// directory.
type StoredFile struct {
	Path     string
	Filename string
	Size     int64
	ModTime  time.Time
}

// Store writes uploads into a single flat directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore returns a Store rooted at dir on fsys, creating dir if it does not
// exist yet.
func NewStore(fsys afero.Fs, dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload dir must not be empty")
	}

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &Store{fs: fsys, dir: dir}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// Fs returns the filesystem the store writes to.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// checkName rejects anything that is not a plain file name inside the
// upload directory.
func checkName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: invalid file name %q", ErrWrite, name)
	case strings.ContainsAny(name, `/\`), filepath.Base(name) != name:
		return fmt.Errorf("%w: file name %q must not contain a path", ErrWrite, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: file name %q must not start with a dot", ErrWrite, name)
	}
	return nil
}

// Path returns the location of name inside the upload directory. It fails
// with ErrMissingImage if name is not a plain file name or does not exist.
func (s *Store) Path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", fmt.Errorf("%w: %q", ErrMissingImage, name)
	}

	path := filepath.Join(s.dir, name)
	info, err := s.fs.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q", ErrMissingImage, name)
	}

	return path, nil
}

// Store streams body into the upload directory under name. The payload is
// written to a temporary file first and renamed into place once complete,
// so a failed transfer never leaves a partial file under name. An existing
// file with the same name is replaced.
func (s *Store) Store(ctx context.Context, body io.Reader, name string) (StoredFile, error) {
	if err := checkName(name); err != nil {
		return StoredFile{}, err
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return StoredFile{}, fmt.Errorf("%w: create upload dir: %w", ErrWrite, err)
	}

	tempPath := filepath.Join(s.dir, tempPrefix+uuid.NewString()+".tmp")
	written, err := s.writeTemp(ctx, tempPath, body)
	if err != nil {
		if rmErr := s.fs.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
			err = errors.Join(err, rmErr)
		}
		return StoredFile{}, fmt.Errorf("%w: %w", ErrWrite, err)
	}

	destPath := filepath.Join(s.dir, name)
	if err := s.fs.Rename(tempPath, destPath); err != nil {
		_ = s.fs.Remove(tempPath)
		return StoredFile{}, fmt.Errorf("%w: rename into place: %w", ErrWrite, err)
	}

	info, err := s.fs.Stat(destPath)
	if err != nil {
		return StoredFile{}, fmt.Errorf("%w: stat stored file: %w", ErrWrite, err)
	}

	return StoredFile{
		Path:     destPath,
		Filename: name,
		Size:     written,
		ModTime:  info.ModTime(),
	}, nil
}

// writeTemp copies body into a newly created file at path. The file is
// always closed before returning.
func (s *Store) writeTemp(ctx context.Context, path string, body io.Reader) (written int64, err error) {
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close temp file: %w", closeErr)
		}
	}()

	written, err = io.Copy(f, &contextReader{ctx: ctx, r: body})
	if err != nil {
		return written, fmt.Errorf("copy upload: %w", err)
	}

	return written, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
