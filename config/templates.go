package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/transform"
)

// Template is a reusable selector spec bound to URLs matching a regular
// expression. Templates are loaded from YAML files:
//
//	name: shop-product
//	data_type: custom
//	match: '^https://shop\.example/p/'
//	selectors:
//	  title: h1.product-title
//	  price: {selector_type: css, selector: .price}
//	transform:
//	  trim: true
//	  convert_numbers: true
type Template struct {
	Name      string              `yaml:"name" json:"name"`
	DataType  string              `yaml:"data_type" json:"data_type"`
	Match     string              `yaml:"match" json:"match"`
	Selectors models.SelectorSpec `yaml:"selectors" json:"selectors"`

	// Patterns overrides the pattern vocabulary for pattern_detection.
	Patterns map[string][]string `yaml:"patterns,omitempty" json:"patterns,omitempty"`

	// Transform replaces the default transform options when set.
	Transform *transform.Options `yaml:"transform,omitempty" json:"transform,omitempty"`

	re *regexp.Regexp
}

// ParseTemplate decodes and validates one template.
func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("template: decode: %w", err)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Template) compile() error {
	var errs []error
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, errors.New("template: name is required"))
	}
	if t.DataType == "" {
		t.DataType = models.DataTypeCustom
	}
	re, err := regexp.Compile(t.Match)
	if err != nil {
		errs = append(errs, fmt.Errorf("template %q: match: %w", t.Name, err))
	}
	t.re = re
	if t.DataType == models.DataTypeCustom && len(t.Selectors) == 0 {
		errs = append(errs, fmt.Errorf("template %q: custom templates need selectors", t.Name))
	}
	if err := extract.ValidateSpec(t.Selectors); err != nil {
		errs = append(errs, fmt.Errorf("template %q: %w", t.Name, err))
	}
	return errors.Join(errs...)
}

// Matches reports whether the template applies to rawURL.
func (t *Template) Matches(rawURL string) bool {
	return t.re != nil && t.re.MatchString(rawURL)
}

// LoadTemplates reads every *.yaml and *.yml file in dir, in name order.
// An empty dir yields no templates.
func LoadTemplates(dir string) ([]*Template, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("templates: read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*Template, 0, len(names))
	seen := make(map[string]string)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("templates: %s: %w", name, err)
		}
		t, err := ParseTemplate(data)
		if err != nil {
			return nil, fmt.Errorf("templates: %s: %w", name, err)
		}
		if prev, dup := seen[t.Name]; dup {
			return nil, fmt.Errorf("templates: %s: name %q already defined in %s", name, t.Name, prev)
		}
		seen[t.Name] = name
		out = append(out, t)
	}
	return out, nil
}

// MatchTemplate returns the first template matching rawURL, or nil.
func MatchTemplate(templates []*Template, rawURL string) *Template {
	for _, t := range templates {
		if t.Matches(rawURL) {
			return t
		}
	}
	return nil
}
