// Package uidmap persists the organizer ID to email table that lets reports
// show attendee emails. The table is a two-column CSV file; entries are only
// ever added.
package uidmap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Table maps organizer IDs to emails, in insertion order.
type Table struct {
	path   string
	ids    []string
	emails map[string]string
	dirty  bool
}

// New returns an empty table saved to path. An empty path makes Save a no-op.
func New(path string) *Table {
	return &Table{path: path, emails: make(map[string]string)}
}

// Load reads the table at path, creating an empty file when there is none.
func Load(path string) (*Table, error) {
	t := New(path)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create users file directory: %w", err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("create users file: %w", err)
		}
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open users file: %w", err)
	}
	defer f.Close()

	if err := t.read(f); err != nil {
		return nil, fmt.Errorf("read users file %s: %w", path, err)
	}
	return t, nil
}

func (t *Table) read(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(rec) < 2 {
			line, _ := cr.FieldPos(0)
			return fmt.Errorf("line %d: expected uid,email", line)
		}
		if _, ok := t.emails[rec[0]]; !ok {
			t.ids = append(t.ids, rec[0])
		}
		t.emails[rec[0]] = rec[1]
	}
}

// Email returns the email of an ID.
func (t *Table) Email(id string) (string, bool) {
	if t == nil {
		return "", false
	}
	e, ok := t.emails[id]
	return e, ok
}

// Learn adds id unless it is already known. It returns true when the table grew.
func (t *Table) Learn(id, email string) bool {
	if _, ok := t.emails[id]; ok {
		return false
	}
	t.ids = append(t.ids, id)
	t.emails[id] = email
	t.dirty = true
	return true
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ids)
}

// Dirty reports whether entries were learned since the table was loaded or saved.
func (t *Table) Dirty() bool {
	return t != nil && t.dirty
}

// Path returns the file the table is saved to.
func (t *Table) Path() string {
	return t.path
}

// Save rewrites the whole file when entries were learned. The new content is
// written next to the file and renamed over it.
func (t *Table) Save() error {
	if !t.Dirty() || t.path == "" {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.path), filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save users file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	for _, id := range t.ids {
		if err := w.Write([]string{id, t.emails[id]}); err != nil {
			tmp.Close()
			return fmt.Errorf("save users file: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("save users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save users file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("save users file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("save users file: %w", err)
	}

	t.dirty = false
	return nil
}
