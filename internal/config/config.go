// Package config loads and validates the traceguide configuration file.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/traceguide/internal/trace"
)

// DefaultFile is the configuration file looked up in the build root.
const DefaultFile = "traceguide.yaml"

// DefaultCacheDir is the snapshot cache directory, relative to the build root.
const DefaultCacheDir = ".traceguide-cache"

// Config is the effective configuration of a build.
type Config struct {
	Relations      []RelationPair    `yaml:"relations" validate:"required,min=1,dive"`
	Attributes     []AttributeDef    `yaml:"attributes,omitempty" validate:"dive"`
	AttributeSort  map[string]string `yaml:"attribute_sort,omitempty" validate:"dive,keys,required,endkeys,comparator"`
	AttributeOrder []SortingRule     `yaml:"attribute_order,omitempty" validate:"dive"`
	Checklist      Checklist         `yaml:"checklist,omitempty"`
	// NotificationItem receives self test warnings about items without a
	// document.
	NotificationItem string    `yaml:"notification_item,omitempty"`
	Documents        Documents `yaml:"documents,omitempty"`
	// Workers limits parallel document loading. Zero means GOMAXPROCS.
	Workers int `yaml:"workers,omitempty" validate:"gte=0"`
	// Cache is the snapshot cache directory.
	Cache string `yaml:"cache,omitempty"`
}

// RelationPair declares a relation and its reverse. An empty reverse makes
// the relation external.
type RelationPair struct {
	Forward string `yaml:"forward" validate:"required,nospace"`
	Reverse string `yaml:"reverse,omitempty" validate:"nospace"`
}

// AttributeDef declares an attribute and the pattern its values must match.
type AttributeDef struct {
	ID      string `yaml:"id" validate:"required"`
	Pattern string `yaml:"pattern" validate:"required,regexp"`
	Caption string `yaml:"caption,omitempty"`
}

// SortingRule assigns an attribute order to items whose id matches Filter.
type SortingRule struct {
	Filter     string   `yaml:"filter" validate:"required,regexp"`
	Attributes []string `yaml:"attributes" validate:"required,min=1,dive,required"`
}

// Checklist configures checkbox-result directives.
type Checklist struct {
	// Attribute receives checkbox values. Empty disables checklists.
	Attribute string `yaml:"attribute,omitempty"`
}

// Documents selects the documents of a build with doublestar patterns.
type Documents struct {
	Include []string `yaml:"include,omitempty" validate:"dive,glob"`
	Exclude []string `yaml:"exclude,omitempty" validate:"dive,glob"`
}

var (
	validate *validator.Validate
	spaceRe  = regexp.MustCompile(`\s`)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("nospace", func(fl validator.FieldLevel) bool {
		return !spaceRe.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("glob", func(fl validator.FieldLevel) bool {
		return doublestar.ValidatePattern(fl.Field().String())
	})
	_ = validate.RegisterValidation("comparator", func(fl validator.FieldLevel) bool {
		_, ok := trace.Comparators[fl.Field().String()]
		return ok
	})
}

// Default returns a configuration with common requirement relations.
func Default() *Config {
	return &Config{
		Relations: []RelationPair{
			{Forward: "validated_by", Reverse: "validates"},
			{Forward: "implemented_by", Reverse: "implements"},
			{Forward: "depends_on", Reverse: "impacts_on"},
			{Forward: "related_to", Reverse: "related_to"},
			{Forward: "tracked_by"},
		},
		Attributes: []AttributeDef{
			{ID: "status", Pattern: "^(draft|review|approved)$", Caption: "Status"},
			{ID: "asil", Pattern: "^(QM|[A-D])$", Caption: "ASIL"},
			{ID: "checked", Pattern: "^(yes|no)$", Caption: "Checked"},
		},
		AttributeSort: map[string]string{"status": "natural"},
		Checklist:     Checklist{Attribute: "checked"},
		Documents:     Documents{Include: []string{"**/*.md"}},
		Cache:         DefaultCacheDir,
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when path does not exist.
func LoadOrDefault(path string) (*Config, bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), false, nil
	}
	cfg, err := Load(path)
	return cfg, err == nil, err
}

// Parse decodes YAML configuration. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if cfg.Cache == "" {
		cfg.Cache = DefaultCacheDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross references.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = describe(fe)
			}
			return errors.New("invalid config: " + strings.Join(msgs, "; "))
		}
		return errors.Wrap(err, "invalid config")
	}

	seen := make(map[string]string)
	for _, p := range c.Relations {
		if rev, ok := seen[p.Forward]; ok && rev != p.Reverse {
			return errors.Errorf("invalid config: relation %q declared twice with different reverses", p.Forward)
		}
		seen[p.Forward] = p.Reverse
	}
	if c.Checklist.Attribute != "" && !c.hasAttribute(c.Checklist.Attribute) {
		return errors.Errorf("invalid config: checklist attribute %q is not defined", c.Checklist.Attribute)
	}
	for attr := range c.AttributeSort {
		if !c.hasAttribute(attr) {
			return errors.Errorf("invalid config: attribute_sort names undefined attribute %q", attr)
		}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Namespace() + " is required"
	case "min":
		return fe.Namespace() + " needs at least " + fe.Param() + " entries"
	case "regexp":
		return fe.Namespace() + " is not a valid regular expression"
	case "glob":
		return fe.Namespace() + " is not a valid glob pattern"
	case "nospace":
		return fe.Namespace() + " must not contain whitespace"
	case "comparator":
		return fe.Namespace() + " names an unknown comparator"
	default:
		return fe.Namespace() + " fails " + fe.Tag()
	}
}

func (c *Config) hasAttribute(id string) bool {
	for _, a := range c.Attributes {
		if trace.ToID(a.ID) == trace.ToID(id) {
			return true
		}
	}
	return false
}

// Seed registers relations, attributes and comparators on col.
func (c *Config) Seed(col *trace.Collection) error {
	for _, p := range c.Relations {
		col.AddRelationPair(p.Forward, p.Reverse)
	}
	for _, def := range c.Attributes {
		attr, err := trace.NewAttribute(def.ID, def.Pattern)
		if err != nil {
			return errors.Wrapf(err, "attribute %s", def.ID)
		}
		attr.Caption = def.Caption
		col.DefineAttribute(attr)
	}
	for attr, name := range c.AttributeSort {
		less, ok := trace.Comparators[name]
		if !ok {
			return errors.Errorf("attribute %s: unknown comparator %q", attr, name)
		}
		col.SetAttributeComparator(trace.ToID(attr), less)
	}
	return nil
}

// ApplySortingRules sets attribute orders on the loaded items. Items matched
// by more than one rule keep the first order and are logged.
func (c *Config) ApplySortingRules(col *trace.Collection, log logrus.FieldLogger) error {
	for _, rule := range c.AttributeOrder {
		ignored, err := col.AddAttributeSortingRule(rule.Filter, rule.Attributes)
		if err != nil {
			return errors.Wrapf(err, "attribute_order %q", rule.Filter)
		}
		for _, id := range ignored {
			log.WithField("item", id).Warnf("attribute order already set, ignoring rule %q", rule.Filter)
		}
	}
	return nil
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(err, "encoding config")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encoding config")
	}
	return buf.Bytes(), nil
}

// Fingerprint identifies the settings that affect loaded documents. Worker
// count and cache location are excluded.
func (c *Config) Fingerprint() string {
	cp := *c
	cp.Workers = 0
	cp.Cache = ""
	cp.Documents = Documents{}
	data, err := cp.Marshal()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
