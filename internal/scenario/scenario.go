// Package scenario manages the situational contexts that frame a practice
// conversation: preset scenarios drawn from a tiered catalog, and free-text
// scenarios authored by the learner.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a preset key does not exist in the catalog.
var ErrNotFound = errors.New("scenario not found")

// Tier identifies the audience a preset scenario is written for.
type Tier string

const (
	TierKids   Tier = "kids"
	TierTeens  Tier = "teens"
	TierAdults Tier = "adults"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierKids, TierTeens, TierAdults:
		return true
	}
	return false
}

// Preset is one catalog scenario. Key phrases are the vocabulary the scenario
// is designed to exercise; the pronunciation scorer compares transcripts
// against them.
type Preset struct {
	// Key uniquely identifies the preset within the catalog
	// (e.g., "coffee_shop").
	Key string `yaml:"key" json:"key"`

	// Title is the display name shown to the learner.
	Title string `yaml:"title" json:"title"`

	// Tier is the target audience.
	Tier Tier `yaml:"tier" json:"tier"`

	// Description frames the situation for the reply model.
	Description string `yaml:"description" json:"description"`

	// Role is the part the tutor character plays (e.g., "barista").
	Role string `yaml:"role" json:"role"`

	// OpeningLine is spoken by the character when the session starts.
	OpeningLine string `yaml:"opening_line" json:"opening_line"`

	// KeyPhrases are target expressions the learner should practice.
	KeyPhrases []string `yaml:"key_phrases" json:"key_phrases,omitempty"`
}

// Descriptor selects the scenario for a session: exactly one of PresetKey or
// FreeText must be set.
type Descriptor struct {
	PresetKey string `json:"preset_key,omitempty" yaml:"preset_key"`
	FreeText  string `json:"free_text,omitempty" yaml:"free_text"`
}

// Validate enforces the exactly-one-of rule.
func (d Descriptor) Validate() error {
	hasPreset := d.PresetKey != ""
	hasFree := strings.TrimSpace(d.FreeText) != ""
	switch {
	case hasPreset && hasFree:
		return errors.New("scenario: preset key and free text are mutually exclusive")
	case !hasPreset && !hasFree:
		return errors.New("scenario: either a preset key or free text is required")
	}
	return nil
}

// Catalog is the set of preset scenarios loaded at startup. It is immutable
// after construction and safe for concurrent use.
type Catalog struct {
	byKey map[string]Preset
	order []string
}

// catalogFile mirrors the YAML layout of the catalog on disk.
type catalogFile struct {
	Scenarios []Preset `yaml:"scenarios"`
}

// LoadCatalog reads the preset catalog from the YAML file at path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scenario catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalogFromReader(f)
}

// LoadCatalogFromReader decodes a catalog from r, rejecting unknown fields
// and duplicate keys.
func LoadCatalogFromReader(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding scenario catalog: %w", err)
	}

	c := &Catalog{byKey: make(map[string]Preset, len(file.Scenarios))}
	var errs []error
	for i, p := range file.Scenarios {
		switch {
		case p.Key == "":
			errs = append(errs, fmt.Errorf("scenarios[%d]: key is required", i))
			continue
		case !p.Tier.IsValid():
			errs = append(errs, fmt.Errorf("scenario %q: unknown tier %q", p.Key, p.Tier))
			continue
		case p.OpeningLine == "":
			errs = append(errs, fmt.Errorf("scenario %q: opening_line is required", p.Key))
			continue
		}
		if _, dup := c.byKey[p.Key]; dup {
			errs = append(errs, fmt.Errorf("scenario %q: duplicate key", p.Key))
			continue
		}
		c.byKey[p.Key] = p
		c.order = append(c.order, p.Key)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the preset for key, or [ErrNotFound].
func (c *Catalog) Get(key string) (Preset, error) {
	p, ok := c.byKey[key]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return p, nil
}

// ByTier returns the presets for tier in catalog order. An invalid tier
// yields an empty slice.
func (c *Catalog) ByTier(tier Tier) []Preset {
	var out []Preset
	for _, key := range c.order {
		if p := c.byKey[key]; p.Tier == tier {
			out = append(out, p)
		}
	}
	return out
}

// All returns every preset in catalog order.
func (c *Catalog) All() []Preset {
	out := make([]Preset, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.byKey[key])
	}
	return out
}

// Resolve turns a validated descriptor into the concrete scenario fields a
// session needs. Free-text scenarios get no opening line or key phrases; the
// reply model improvises those.
func (c *Catalog) Resolve(d Descriptor) (Preset, error) {
	if err := d.Validate(); err != nil {
		return Preset{}, err
	}
	if d.PresetKey != "" {
		return c.Get(d.PresetKey)
	}
	return Preset{
		Key:         "",
		Title:       "Custom scenario",
		Description: strings.TrimSpace(d.FreeText),
		Role:        "conversation partner",
	}, nil
}
