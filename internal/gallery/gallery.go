package gallery

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"imagelab/internal/upload"
)

// PresetSuffix is the extension preset images carry in the preset directory.
const PresetSuffix = ".JPEG"

// Source says where an image id is looked up.
type Source string

const (
	Preset   Source = "preset"
	Uploaded Source = "uploaded"
)

// ParseSource maps a form value to a Source. Anything other than
// "uploaded" selects the preset images.
func ParseSource(s string) Source {
	if strings.EqualFold(strings.TrimSpace(s), string(Uploaded)) {
		return Uploaded
	}
	return Preset
}

// Gallery resolves image ids against the preset directory and the upload
// store.
type Gallery struct {
	fs        afero.Fs
	presetDir string
	uploads   *upload.Store
}

func New(fsys afero.Fs, presetDir string, uploads *upload.Store) *Gallery {
	return &Gallery{fs: fsys, presetDir: presetDir, uploads: uploads}
}

// Fs returns the filesystem presets are read from.
func (g *Gallery) Fs() afero.Fs {
	return g.fs
}

// FsFor returns the filesystem images from source are read from.
func (g *Gallery) FsFor(source Source) afero.Fs {
	if source == Uploaded {
		return g.uploads.Fs()
	}
	return g.fs
}

// PresetDir returns the directory preset images are served from.
func (g *Gallery) PresetDir() string {
	return g.presetDir
}

// Presets lists the preset image names in lexical order. A missing preset
// directory yields an empty list.
func (g *Gallery) Presets() ([]string, error) {
	entries, err := afero.ReadDir(g.fs, g.presetDir)
	if err != nil {
		if exists, _ := afero.DirExists(g.fs, g.presetDir); !exists {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list presets: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Mode().IsRegular() && strings.HasSuffix(entry.Name(), PresetSuffix) {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Resolve returns the filesystem path of image id from source.
func (g *Gallery) Resolve(source Source, id string) (string, error) {
	if source == Uploaded {
		return g.uploads.Path(id)
	}

	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", upload.ErrMissingImage, id)
	}

	path := filepath.Join(g.presetDir, id)
	info, err := g.fs.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q", upload.ErrMissingImage, id)
	}
	return path, nil
}
