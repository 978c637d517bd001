package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v3"
	"gopkg.in/yaml.v3"
)

// Bundle is an offline task definition. File paths are relative to the
// bundle file.
type Bundle struct {
	Title          string   `yaml:"title"`
	Original       string   `yaml:"original"`
	Etalon         string   `yaml:"etalon"`
	EtalonScript   string   `yaml:"etalon_script"`
	Restrictions   []string `yaml:"restrictions"`
	IgnoreRowOrder bool     `yaml:"ignore_row_order"`
	StrictSchema   bool     `yaml:"strict_schema"`

	dir string
}

// LoadBundle parses and validates a bundle file.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read bundle %s", path)
	}
	b := &Bundle{}
	if err := yaml.Unmarshal(data, b); err != nil {
		return nil, errors.Wrapf(err, "parse bundle %s", path)
	}
	b.dir = filepath.Dir(path)
	if err := b.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid bundle %s", path)
	}
	return b, nil
}

// Validate requires an original dump and exactly one reference outcome.
func (b *Bundle) Validate() error {
	if err := validation.ValidateStruct(b,
		validation.Field(&b.Original, validation.Required),
	); err != nil {
		return err
	}
	if (b.Etalon == "") == (b.EtalonScript == "") {
		return errors.New("exactly one of etalon and etalon_script is required")
	}
	return nil
}

func (b *Bundle) read(name string) ([]byte, error) {
	if !filepath.IsAbs(name) {
		name = filepath.Join(b.dir, name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return data, nil
}

// OriginalDump returns the starting database of the task.
func (b *Bundle) OriginalDump() ([]byte, error) { return b.read(b.Original) }

// EtalonDump returns the precomputed reference database, or nil when the
// bundle uses an etalon script.
func (b *Bundle) EtalonDump() ([]byte, error) {
	if b.Etalon == "" {
		return nil, nil
	}
	return b.read(b.Etalon)
}
