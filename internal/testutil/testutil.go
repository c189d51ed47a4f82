// Package testutil provides shared test helpers for trust databases,
// workspaces and notebook fixtures.
package testutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/nbtrust/internal/nbformat"
	"github.com/starford/nbtrust/internal/storage"
	"github.com/starford/nbtrust/internal/trust"
)

// Secret is a fixed signing key for tests.
var Secret = []byte("test-secret")

// V4Notebook is an nbformat 4 document with a markdown cell, a code cell
// with output and a code cell without output.
const V4Notebook = `{
 "cells": [
  {
   "cell_type": "markdown",
   "metadata": {},
   "source": "# Title\nSome text\n"
  },
  {
   "cell_type": "code",
   "execution_count": 1,
   "metadata": {},
   "outputs": [
    {
     "name": "stdout",
     "output_type": "stream",
     "text": "hello\nworld\n"
    },
    {
     "data": {
      "text/html": "<b>bold</b>\n<i>it</i>",
      "text/plain": "bold"
     },
     "execution_count": 1,
     "metadata": {},
     "output_type": "execute_result"
    }
   ],
   "source": "print('hello')\nprint('world')"
  },
  {
   "cell_type": "code",
   "execution_count": null,
   "metadata": {},
   "outputs": [],
   "source": "x = 1"
  }
 ],
 "metadata": {
  "kernelspec": {"display_name": "Python 3", "language": "python", "name": "python3"}
 },
 "nbformat": 4,
 "nbformat_minor": 5
}`

// V3Notebook is an nbformat 3 document with cells nested under one
// worksheet: a heading cell, a code cell with output and a code cell
// without output.
const V3Notebook = `{
 "metadata": {"name": "legacy"},
 "nbformat": 3,
 "nbformat_minor": 0,
 "worksheets": [
  {
   "cells": [
    {
     "cell_type": "heading",
     "level": 1,
     "metadata": {},
     "source": "Legacy\n"
    },
    {
     "cell_type": "code",
     "collapsed": false,
     "input": "print('legacy')\n1 + 1",
     "language": "python",
     "metadata": {},
     "outputs": [
      {
       "output_type": "stream",
       "stream": "stdout",
       "text": "legacy\n"
      },
      {
       "html": "<p>2</p>\n",
       "metadata": {},
       "output_type": "pyout",
       "prompt_number": 1,
       "text": "2"
      }
     ],
     "prompt_number": 1
    },
    {
     "cell_type": "code",
     "collapsed": false,
     "input": "y = 2",
     "language": "python",
     "metadata": {},
     "outputs": []
    }
   ],
   "metadata": {}
  }
 ]
}`

// Notebook decodes a fixture, failing the test on error.
func Notebook(t *testing.T, src string) *nbformat.Notebook {
	t.Helper()
	nb, err := nbformat.ReadBytes([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	return nb
}

// TestDB creates a temporary trust database that is automatically cleaned up.
func TestDB(t *testing.T, opts ...trust.Option) *trust.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "nbtrust-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := trust.Open(dbFile.Name(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestWorkspace creates a temporary notebook directory with a storage.Provider.
func TestWorkspace(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// WriteNotebook writes src to rel under dir, creating parent directories.
func WriteNotebook(t *testing.T, dir, rel, src string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time and advances it by one millisecond so
// that successive writes are strictly ordered.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(time.Millisecond)
	return now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
