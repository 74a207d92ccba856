package catalog

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/internal/apperror"
)

type fileFormat struct {
	Paths []pathRecord `yaml:"paths"`
}

// ParseYAML reads catalog entries. Every path is validated; the first
// malformed one fails the whole file.
func ParseYAML(r io.Reader) ([]Entry, error) {
	var f fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("decode path catalog"), apperror.WithCause(err))
	}

	entries := make([]Entry, 0, len(f.Paths))
	seen := make(map[string]struct{}, len(f.Paths))
	for _, rec := range f.Paths {
		if _, dup := seen[rec.ID]; dup {
			return nil, apperror.New(apperror.CodeInvalidPath,
				apperror.WithContextf("duplicate path id %q", rec.ID))
		}
		seen[rec.ID] = struct{}{}

		e, err := rec.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// MarshalYAML renders entries in the catalog file format.
func MarshalYAML(entries []Entry) ([]byte, error) {
	f := fileFormat{Paths: make([]pathRecord, 0, len(entries))}
	for _, e := range entries {
		f.Paths = append(f.Paths, fromEntry(e))
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// YAMLCatalog serves paths from a file, reloading it when it changes on disk.
type YAMLCatalog struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	entries []Entry
}

// NewYAML creates a catalog over the file at path. The file is read on
// first use.
func NewYAML(path string) *YAMLCatalog {
	return &YAMLCatalog{path: path}
}

// Paths returns the paths in selector's set.
func (c *YAMLCatalog) Paths(_ context.Context, selector string) ([]domain.TriangularPath, error) {
	entries, err := c.load()
	if err != nil {
		return nil, err
	}
	return selectPaths(entries, selector), nil
}

// Entries returns every entry in the file.
func (c *YAMLCatalog) Entries() ([]Entry, error) {
	return c.load()
}

func (c *YAMLCatalog) load() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContextf("path catalog %s", c.path), apperror.WithCause(err))
	}
	if c.entries != nil && info.ModTime().Equal(c.modTime) {
		return c.entries, nil
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContextf("path catalog %s", c.path), apperror.WithCause(err))
	}
	defer f.Close()

	entries, err := ParseYAML(f)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	c.modTime = info.ModTime()
	return entries, nil
}
