// Package framework defines the framework document model: an ordered set of
// practice domains topped by a single meta-layer domain.
package framework

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

// MetaLayerID is reserved for the meta-layer domain and must never be used
// by a regular domain.
const MetaLayerID = 0

type Scale string

const (
	ScaleIndividual Scale = "individual"
	ScaleCollective Scale = "collective"
	ScaleBoth       Scale = "both"
)

func (s Scale) Valid() bool {
	switch s {
	case ScaleIndividual, ScaleCollective, ScaleBoth:
		return true
	}
	return false
}

// Practice is a single text item tagged with the scale it applies at.
// Practices have no stable identity; they are addressed by position within
// their owning domain.
type Practice struct {
	Text  string `json:"text"`
	Scale Scale  `json:"scale"`
}

type Domain struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	Color       string     `json:"color"`
	Description string     `json:"description,omitempty"`
	Practices   []Practice `json:"practices"`
}

// Document is the full user-visible content: the meta-layer plus the ordered
// domain sequence. It is replaced wholesale on sync, never partially merged.
type Document struct {
	MetaLayer Domain   `json:"metaLayer"`
	Domains   []Domain `json:"domains"`
}

var (
	ErrDomainNotFound   = errors.New("domain not found")
	ErrPracticeNotFound = errors.New("practice not found")
)

// Parse decodes and validates a document from JSON.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the structural invariants: the meta-layer carries the
// reserved id, no regular domain collides with it, and domain ids are unique.
func (d *Document) Validate() error {
	if d.MetaLayer.ID != MetaLayerID {
		return fmt.Errorf("meta-layer must have id %d, got %d", MetaLayerID, d.MetaLayer.ID)
	}
	seen := map[int]struct{}{MetaLayerID: {}}
	for _, domain := range d.Domains {
		if domain.ID == MetaLayerID {
			return fmt.Errorf("domain %q uses the reserved meta-layer id", domain.Title)
		}
		if _, dup := seen[domain.ID]; dup {
			return fmt.Errorf("duplicate domain id %d", domain.ID)
		}
		seen[domain.ID] = struct{}{}
		for i, practice := range domain.Practices {
			if !practice.Scale.Valid() {
				return fmt.Errorf("domain %d practice %d: invalid scale %q", domain.ID, i, practice.Scale)
			}
		}
	}
	return nil
}

// Clone returns a deep copy fully independent of the receiver.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		MetaLayer: cloneDomain(d.MetaLayer),
		Domains:   make([]Domain, len(d.Domains)),
	}
	for i, domain := range d.Domains {
		out.Domains[i] = cloneDomain(domain)
	}
	return out
}

func cloneDomain(d Domain) Domain {
	out := d
	out.Practices = make([]Practice, len(d.Practices))
	copy(out.Practices, d.Practices)
	return out
}

// Domain returns the domain with the given id; id 0 selects the meta-layer.
func (d *Document) Domain(id int) *Domain {
	if id == MetaLayerID {
		return &d.MetaLayer
	}
	for i := range d.Domains {
		if d.Domains[i].ID == id {
			return &d.Domains[i]
		}
	}
	return nil
}

// SetPracticeText replaces the text of the practice at (domainID, index).
func (d *Document) SetPracticeText(domainID, index int, text string) error {
	domain := d.Domain(domainID)
	if domain == nil {
		return fmt.Errorf("%w: %d", ErrDomainNotFound, domainID)
	}
	if index < 0 || index >= len(domain.Practices) {
		return fmt.Errorf("%w: domain %d index %d", ErrPracticeNotFound, domainID, index)
	}
	domain.Practices[index].Text = text
	return nil
}

// PracticeText reads the text at (domainID, index).
func (d *Document) PracticeText(domainID, index int) (string, error) {
	domain := d.Domain(domainID)
	if domain == nil {
		return "", fmt.Errorf("%w: %d", ErrDomainNotFound, domainID)
	}
	if index < 0 || index >= len(domain.Practices) {
		return "", fmt.Errorf("%w: domain %d index %d", ErrPracticeNotFound, domainID, index)
	}
	return domain.Practices[index].Text, nil
}

// PracticesByScale returns the practices of a domain matching the scale.
// Practices marked "both" match either specific scale; an empty scale
// matches everything.
func (d *Domain) PracticesByScale(scale Scale) []Practice {
	if scale == "" {
		return d.Practices
	}
	var out []Practice
	for _, p := range d.Practices {
		if p.Scale == scale || p.Scale == ScaleBoth {
			out = append(out, p)
		}
	}
	return out
}

// FilterScale returns a copy of the document keeping only practices at the
// given scale. An empty scale returns the full document.
func (d *Document) FilterScale(scale Scale) *Document {
	out := d.Clone()
	if scale == "" {
		return out
	}
	out.MetaLayer.Practices = out.MetaLayer.PracticesByScale(scale)
	for i := range out.Domains {
		out.Domains[i].Practices = out.Domains[i].PracticesByScale(scale)
	}
	return out
}

// Fingerprint returns the RFC 8785 canonical JSON encoding of the document.
// Two documents have equal fingerprints iff they are structurally equal, so
// the encoding is safe for dirty comparison regardless of map iteration or
// field ordering concerns.
func (d *Document) Fingerprint() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize document: %w", err)
	}
	return string(canonical), nil
}
