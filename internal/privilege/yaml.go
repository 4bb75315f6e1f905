package privilege

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Privileges []Definition `yaml:"privileges"`
}

// LoadYAML registers every definition found in r. The document looks like:
//
//	privileges:
//	  - key: newsletter
//	    label: Newsletter
//	    description: Send me the monthly newsletter.
//	    default_granted: true
//
// Registration stops at the first invalid definition; earlier ones stay registered.
func (c *Catalog) LoadYAML(r io.Reader) error {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode privilege catalog: %w", err)
	}
	for _, def := range file.Privileges {
		if err := c.Register(def); err != nil {
			return err
		}
	}
	return nil
}
