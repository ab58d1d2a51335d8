package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// document is the on-disk registry format:
//
//	concepts:
//	  - id: linear_equations
//	    importance: 2
//	items:
//	  - id: "101"
//	    kind: question
//	    concepts: [linear_equations]
type document struct {
	Concepts []struct {
		ID         string   `yaml:"id"`
		Importance *float64 `yaml:"importance"`
	} `yaml:"concepts"`
	Items []struct {
		ID       string   `yaml:"id"`
		Kind     string   `yaml:"kind"`
		Concepts []string `yaml:"concepts"`
	} `yaml:"items"`
}

// FileSource reads the registry from a YAML file.
type FileSource struct {
	Path string
}

// NewFileSource returns a source for path.
func NewFileSource(path string) *FileSource { return &FileSource{Path: path} }

// Name implements Source.
func (f *FileSource) Name() string { return "file:" + f.Path }

// Load implements Source.
func (f *FileSource) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return Parse(f.Name(), raw)
}

// Parse decodes a YAML registry document. Unknown keys and documents
// without items are rejected so a broken file never replaces a good snapshot.
func Parse(source string, raw []byte) (*Snapshot, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidSource)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if len(doc.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidSource)
	}
	importance := make(map[string]float64, len(doc.Concepts))
	for _, c := range doc.Concepts {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: concept without id", ErrInvalidSource)
		}
		w := DefaultImportance
		if c.Importance != nil {
			w = *c.Importance
		}
		importance[c.ID] = w
	}
	mappings := make([]Mapping, 0, len(doc.Items))
	for _, it := range doc.Items {
		mappings = append(mappings, Mapping{ItemID: it.ID, Kind: ItemKind(it.Kind), Concepts: it.Concepts})
	}
	return NewSnapshot(source, mappings, importance)
}

// StaticSource serves a fixed set of mappings.
type StaticSource struct {
	Mappings   []Mapping
	Importance map[string]float64
}

// Name implements Source.
func (s *StaticSource) Name() string { return "static" }

// Load implements Source.
func (s *StaticSource) Load(context.Context) (*Snapshot, error) {
	return NewSnapshot(s.Name(), s.Mappings, s.Importance)
}
