package roles

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// tableFile is the on-disk shape of a role mapping table:
//
//	version: "2024-06"
//	mappings:
//	  managers: manager
//	  /staff/employees: employee
type tableFile struct {
	Version  string            `yaml:"version"`
	Mappings map[string]string `yaml:"mappings"`
}

// LoadTable reads a YAML mapping table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role mapping file: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes a YAML mapping table.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse role mapping file: %w", err)
	}
	if len(f.Mappings) == 0 {
		return nil, fmt.Errorf("role mapping file has no mappings")
	}
	return NewTable(f.Version, f.Mappings)
}
