package simtype

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk catalog layout.
//
//	simulation_types:
//	  srw:
//	    library: ["*.dat"]
//	    models:
//	      intensityReport:
//	        fields:
//	          - electronBeam
//	          - simulation.photonEnergy
//	          - ["nonce", 1]
//	      multiElectronAnimation:
//	        parallel: true
//	        fields: [electronBeam, multiElectronAnimation]
type catalogFile struct {
	SimulationTypes map[string]TypeSpec `yaml:"simulation_types"`
}

// Load reads a catalog from a YAML (or JSON) file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates a catalog.
func LoadFromBytes(data []byte) (*Catalog, error) {
	if len(data) == 0 {
		return nil, errors.New("catalog is empty")
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	if raw == nil {
		return nil, errors.New("catalog is empty")
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	if err := ValidateRaw(asJSON); err != nil {
		return nil, err
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return New(f.SimulationTypes)
}
