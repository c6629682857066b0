// Package sandbox loads report-type catalogs and seeds them, optionally with
// synthetic report values, into a lab for demos and integration tests.
package sandbox

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lims/lims/internal/domain/report"
)

//go:embed demo_catalog.yaml
var demoCatalog []byte

// Catalog is the YAML document describing report types.
type Catalog struct {
	ReportTypes []TypeDef `yaml:"reportTypes"`
}

type TypeDef struct {
	Code        string     `yaml:"code"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Inactive    bool       `yaml:"inactive,omitempty"`
	Fields      []FieldDef `yaml:"fields"`
}

type FieldDef struct {
	Name          string   `yaml:"name"`
	Label         string   `yaml:"label"`
	Type          string   `yaml:"type"`
	Unit          string   `yaml:"unit,omitempty"`
	Options       []string `yaml:"options,omitempty"`
	Min           *float64 `yaml:"min,omitempty"`
	Max           *float64 `yaml:"max,omitempty"`
	ReferenceLow  *float64 `yaml:"referenceLow,omitempty"`
	ReferenceHigh *float64 `yaml:"referenceHigh,omitempty"`
	Required      bool     `yaml:"required,omitempty"`
	Inactive      bool     `yaml:"inactive,omitempty"`
}

// Parse decodes a catalog. Unknown keys are rejected so typos in field
// attributes do not silently drop constraints.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &c, nil
		}
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &c, nil
}

func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Demo returns the built-in catalog: CBC, blood group, lipid panel and
// urinalysis.
func Demo() *Catalog {
	c, err := Parse(bytes.NewReader(demoCatalog))
	if err != nil {
		panic(fmt.Sprintf("demo catalog: %v", err))
	}
	return c
}

// Validate checks the whole catalog and reports every problem found.
func (c *Catalog) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	codes := make(map[string]bool)
	for i, t := range c.ReportTypes {
		where := fmt.Sprintf("reportTypes[%d]", i)
		if t.Code == "" {
			add("%s: code is required", where)
		} else {
			where = t.Code
			if codes[t.Code] {
				add("%s: duplicate code", where)
			}
			codes[t.Code] = true
		}
		if t.Name == "" {
			add("%s: name is required", where)
		}

		names := make(map[string]bool)
		for j, f := range t.Fields {
			fw := fmt.Sprintf("%s.fields[%d]", where, j)
			if f.Name == "" {
				add("%s: name is required", fw)
			} else {
				fw = where + "." + f.Name
				if names[f.Name] {
					add("%s: duplicate field name", fw)
				}
				names[f.Name] = true
			}
			ft := report.FieldType(f.Type)
			if !report.ValidFieldType(ft) {
				add("%s: unknown type %q", fw, f.Type)
			}
			if ft == report.FieldSelect && len(f.Options) == 0 {
				add("%s: select field needs options", fw)
			}
			if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
				add("%s: min above max", fw)
			}
			if f.ReferenceLow != nil && f.ReferenceHigh != nil && *f.ReferenceLow > *f.ReferenceHigh {
				add("%s: reference range inverted", fw)
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid catalog: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ReportTypes converts the catalog into domain report types. Display order
// follows the position of each field in the file.
func (c *Catalog) ReportTypes() []*report.ReportType {
	out := make([]*report.ReportType, 0, len(c.ReportTypes))
	for _, t := range c.ReportTypes {
		rt := &report.ReportType{
			Code:     t.Code,
			Name:     t.Name,
			IsActive: !t.Inactive,
			Fields:   make([]report.Field, 0, len(t.Fields)),
		}
		if t.Description != "" {
			desc := t.Description
			rt.Description = &desc
		}
		for i, f := range t.Fields {
			label := f.Label
			if label == "" {
				label = f.Name
			}
			field := report.Field{
				FieldName:     f.Name,
				Label:         label,
				FieldType:     report.FieldType(f.Type),
				Options:       f.Options,
				MinValue:      f.Min,
				MaxValue:      f.Max,
				ReferenceLow:  f.ReferenceLow,
				ReferenceHigh: f.ReferenceHigh,
				IsRequired:    f.Required,
				DisplayOrder:  (i + 1) * 10,
				IsActive:      !f.Inactive,
			}
			if f.Unit != "" {
				unit := f.Unit
				field.Unit = &unit
			}
			rt.Fields = append(rt.Fields, field)
		}
		out = append(out, rt)
	}
	return out
}
