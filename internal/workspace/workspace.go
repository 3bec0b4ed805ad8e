// Package workspace holds the in-memory set of game source files that the
// editor shows and the preview executes.
package workspace

import (
	"embed"
	"errors"
	"fmt"
)

// IndexFile is the entry document every workspace must contain.
const IndexFile = "index.html"

var (
	ErrNotFound     = errors.New("file not found")
	ErrMissingIndex = errors.New("workspace must contain " + IndexFile)
	ErrInvalidName  = errors.New("invalid file name")
)

//go:embed starter/index.html starter/script.js
var starterFS embed.FS

// Workspace is an ordered filename -> source mapping with a revision counter
// that advances on every mutation. It is not safe for concurrent use; a
// studio owns it from a single event loop.
type Workspace struct {
	files    Files
	index    map[string]int
	revision uint64
}

// New builds a workspace from the given files.
func New(files Files) (*Workspace, error) {
	w := &Workspace{}
	if err := w.load(files); err != nil {
		return nil, err
	}
	return w, nil
}

// Starter returns the template files a fresh studio begins with.
func Starter() Files {
	var files Files
	for _, name := range []string{IndexFile, "script.js"} {
		data, err := starterFS.ReadFile("starter/" + name)
		if err != nil {
			panic(fmt.Sprintf("workspace: missing starter file %s: %v", name, err))
		}
		files = append(files, File{Name: name, Content: string(data)})
	}
	return files
}

// Get returns the text of the named file.
func (w *Workspace) Get(name string) (string, error) {
	i, ok := w.index[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return w.files[i].Content, nil
}

// Has reports whether name is a key of the workspace.
func (w *Workspace) Has(name string) bool {
	_, ok := w.index[name]
	return ok
}

// Set replaces the text of a single file, appending it when new.
func (w *Workspace) Set(name, text string) error {
	if name == "" {
		return ErrInvalidName
	}
	if i, ok := w.index[name]; ok {
		w.files[i].Content = text
	} else {
		w.index[name] = len(w.files)
		w.files = append(w.files, File{Name: name, Content: text})
	}
	w.revision++
	return nil
}

// ReplaceAll swaps the whole workspace for files. Nothing from the previous
// state is carried over. On error the workspace is left unchanged.
func (w *Workspace) ReplaceAll(files Files) error {
	if err := w.load(files); err != nil {
		return err
	}
	w.revision++
	return nil
}

func (w *Workspace) load(files Files) error {
	index := make(map[string]int, len(files))
	for i, f := range files {
		if f.Name == "" {
			return ErrInvalidName
		}
		if _, dup := index[f.Name]; dup {
			return fmt.Errorf("duplicate file %q", f.Name)
		}
		index[f.Name] = i
	}
	if _, ok := index[IndexFile]; !ok {
		return ErrMissingIndex
	}
	w.files = files.Clone()
	w.index = index
	return nil
}

// Files returns an ordered snapshot of the workspace.
func (w *Workspace) Files() Files {
	return w.files.Clone()
}

// Names returns the filenames in workspace order.
func (w *Workspace) Names() []string {
	return w.files.Names()
}

// Len returns the number of files.
func (w *Workspace) Len() int {
	return len(w.files)
}

// Revision increases by one on every Set or ReplaceAll.
func (w *Workspace) Revision() uint64 {
	return w.revision
}
