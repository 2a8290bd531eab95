package registry

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk layout of a file-backed routing registry.
type Document struct {
	UpdatedAt time.Time `yaml:"updated_at"`
	// Entries holds legacy routing items keyed by endpoint name.
	Entries map[string]map[string]string `yaml:"entries"`
	Records []Record                     `yaml:"records"`
}

// File is a Registry backed by a YAML document. The file is re-read on every
// call so edits are picked up without a restart.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Lookup(_ context.Context, entryKey string) (map[string]string, error) {
	doc, err := LoadDocument(f.path)
	if err != nil {
		return nil, err
	}
	item, ok := doc.Entries[entryKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entryKey)
	}
	out := maps.Clone(item)
	if out == nil {
		out = map[string]string{}
	}
	out[EndpointNameAttr] = entryKey
	return out, nil
}

func (f *File) Query(_ context.Context, filter Filter) ([]Record, error) {
	doc, err := LoadDocument(f.path)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(doc.Records))
	for _, rec := range doc.Records {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// LoadDocument loads the registry from disk. If the file is missing, returns an empty document.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{}, nil
		}
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return &doc, nil
}

// SaveDocument writes the registry to disk.
func SaveDocument(path string, doc *Document) error {
	if doc == nil {
		return nil
	}
	doc.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// SnapshotEntry stores item as the legacy routing entry entryKey in the
// document at path, keeping every other entry and record. It lets a resolved
// peer set be replayed later through the file backend.
func SnapshotEntry(path, entryKey string, item map[string]string) error {
	doc, err := LoadDocument(path)
	if err != nil {
		return err
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]map[string]string)
	}
	doc.Entries[entryKey] = maps.Clone(item)
	return SaveDocument(path, doc)
}
