package configstore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the bootstrap format:
//
//	configs:
//	  dhcp:
//	    - type: host
//	      options:
//	        name: tv
//	        ip: 10.0.0.5
//	        mac: ["AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66"]
type seedFile struct {
	Configs map[string][]seedSection `yaml:"configs"`
}

type seedSection struct {
	ID      string               `yaml:"id"`
	Type    string               `yaml:"type"`
	Options map[string]seedValue `yaml:"options"`
}

// seedValue accepts either a scalar or a sequence of scalars.
type seedValue []string

func (v *seedValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = seedValue{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*v = list
		return nil
	default:
		return fmt.Errorf("line %d: option must be a scalar or a list", node.Line)
	}
}

// ImportSeed loads a YAML seed file into an empty backend. A backend that
// already holds committed data is left untouched and ImportSeed reports
// false.
func ImportSeed(backend *BoltBackend, path string) (bool, error) {
	empty, err := backend.Empty()
	if err != nil {
		return false, err
	}
	if !empty {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return false, fmt.Errorf("parse seed: %w", err)
	}

	for config, list := range seed.Configs {
		sections := make([]Section, 0, len(list))
		for i, ss := range list {
			if ss.Type == "" {
				return false, fmt.Errorf("seed %s[%d]: type is required", config, i)
			}
			sec := Section{ID: ss.ID, Type: ss.Type, Options: make(map[string][]string, len(ss.Options))}
			if sec.ID == "" {
				sec.ID = newSectionID()
			}
			for k, v := range ss.Options {
				sec.Options[k] = []string(v)
			}
			sections = append(sections, sec)
		}
		if err := backend.PutCommitted(config, sections); err != nil {
			return false, fmt.Errorf("seed %s: %w", config, err)
		}
	}
	return true, nil
}
