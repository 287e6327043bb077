package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// ProcessorDefaultsFile is the yaml shape of configs/processors.yaml:
// per-processor config maps that deployments tune without a code change.
type ProcessorDefaultsFile struct {
	Processors map[string]map[string]interface{} `yaml:"processors"`
}

// Defaults resolves file-level processor config. It sits between the
// compiled-in defaultConfig and the database chain: code default <
// file default < organization config < per-case override.
type Defaults struct {
	processors map[string]map[string]interface{}
	mu         sync.RWMutex
}

// LoadDefaults reads the processor defaults file. A missing file is not
// an error; it just means no file-level overrides.
func LoadDefaults(path string) (*Defaults, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Defaults{processors: make(map[string]map[string]interface{})}, nil
		}
		return nil, err
	}
	defer f.Close()

	var file ProcessorDefaultsFile
	if err := yaml.NewDecoder(f).Decode(&file); err != nil {
		return nil, err
	}
	if file.Processors == nil {
		file.Processors = make(map[string]map[string]interface{})
	}
	return &Defaults{processors: file.Processors}, nil
}

// ForProcessor returns the file-level config for a processor name, or an
// empty map when none is declared.
func (d *Defaults) ForProcessor(name string) map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	src, ok := d.processors[name]
	if !ok {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
