package sequence

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Units values accepted in a sequence file.
const (
	UnitsNative   = "native"
	UnitsPhysical = "physical"
)

// File is a move sequence as described in a YAML document. Units says
// whether the values are already in motor units ("native") or in the
// physical unit system ("physical"), in which case the caller converts
// them with a units.Converter before compiling.
type File struct {
	Units  string   `yaml:"units"`
	Blocks Sequence `yaml:"blocks"`
}

// LoadFile reads a YAML sequence file and validates it.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if f.Units == "" {
		f.Units = UnitsNative
	}
	if f.Units != UnitsNative && f.Units != UnitsPhysical {
		return nil, fmt.Errorf("units must be %q or %q, got %q",
			UnitsNative, UnitsPhysical, f.Units)
	}
	if len(f.Blocks) == 0 {
		return nil, fmt.Errorf("sequence file has no blocks")
	}
	if err := f.Blocks.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}
