// Package catpath implements the dir/filename/full string triple used
// throughout catcierge to name generated images and rendered templates.
package catpath

import (
	"fmt"
	"path/filepath"
)

// Path keeps a directory, a filename and their join in sync so callers never
// have to reconstruct one from the others.
type Path struct {
	Dir      string
	Filename string
	Full     string
}

// New builds a Path from a directory and filename, computing Full.
func New(dir, filename string) Path {
	p := Path{Dir: dir, Filename: filename}
	p.Full = filepath.Join(dir, filename)
	return p
}

// FromFull builds a Path by splitting an already joined path.
func FromFull(full string) Path {
	return Path{Dir: filepath.Dir(full), Filename: filepath.Base(full), Full: full}
}

// SetFilename replaces the filename and recomputes Full.
func (p *Path) SetFilename(filename string) {
	p.Filename = filename
	p.Full = filepath.Join(p.Dir, filename)
}

// SetDir replaces the directory and recomputes Full.
func (p *Path) SetDir(dir string) {
	p.Dir = dir
	p.Full = filepath.Join(dir, p.Filename)
}

// Abs returns the absolute form of Full.
func (p Path) Abs() (string, error) {
	a, err := filepath.Abs(p.Full)
	if err != nil {
		return "", fmt.Errorf("catpath: abs %q: %w", p.Full, err)
	}
	return a, nil
}

// Rel returns Full expressed relative to base.
func (p Path) Rel(base string) (string, error) {
	r, err := filepath.Rel(base, p.Full)
	if err != nil {
		return "", fmt.Errorf("catpath: rel %q from %q: %w", p.Full, base, err)
	}
	return r, nil
}

// String implements fmt.Stringer.
func (p Path) String() string {
	return p.Full
}
