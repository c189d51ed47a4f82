// Package storage provides root-confined file access for notebook
// workspaces and the trust data directory.
package storage

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// NotebookExt is the file extension of notebook documents.
const NotebookExt = ".ipynb"

// FileInfo describes one notebook file.
type FileInfo struct {
	Path      string        `json:"path"`
	Digest    digest.Digest `json:"digest"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Provider is the interface for file operations under a root directory.
type Provider interface {
	// List returns every notebook under dir (relative to root).
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path (relative to root).
	Write(path string, content []byte) error
	// Create atomically writes a new file, failing with fs.ErrExist when
	// path is already present.
	Create(path string, content []byte) error
	// Root returns the absolute root directory.
	Root() string
}
