package calibration

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// fileSchema mirrors the calibration YAML layout:
//
//	cups:
//	  - target: 1
//	    pull: 12.0
//	    rotation: -0.6
type fileSchema struct {
	Cups []Entry `koanf:"cups"`
}

// Load reads and validates a calibration table from a YAML file.
func Load(path string, opts ...Option) (*Table, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load calibration file: %w", err)
	}

	var schema fileSchema
	if err := k.UnmarshalWithConf("", &schema, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parse calibration file: %w", err)
	}

	return New(schema.Cups, opts...)
}
