package character

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout of a character table.
type catalogFile struct {
	Characters []Character `yaml:"characters"`
}

// LoadFile reads a YAML character table from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("character: open %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("character: parse %q: %w", path, err)
	}
	return c, nil
}

// LoadFromReader decodes a YAML character table from r. Unknown keys are
// rejected.
func LoadFromReader(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("character: decode yaml: %w", err)
	}
	return NewCatalog(file.Characters)
}
