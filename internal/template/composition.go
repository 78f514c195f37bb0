package template

import (
	"fmt"
	"regexp"

	"sigs.k8s.io/yaml"

	"conductor/internal/config"
	"conductor/internal/model"
)

// Composition is a composition template: the declarative description of a
// definition, commissioned by the provider.
type Composition struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	Elements    []Element `json:"elements"`
}

// Element declares one element type of a composition.
type Element struct {
	ID string `json:"id"`
	// Type is matched against the element types participants support.
	Type string `json:"type"`
	// ParticipantID pins the element to a participant. When empty the
	// provider picks an active participant supporting Type.
	ParticipantID string           `json:"participantId,omitempty"`
	Properties    model.Properties `json:"properties,omitempty"`
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+([-+][0-9A-Za-z.-]+)?$`)

// Parse decodes a YAML or JSON composition template. Unknown fields are
// rejected.
func Parse(data []byte) (*Composition, error) {
	var c Composition
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("parsing composition template: %w", err)
	}
	return &c, nil
}

// Key returns "name:version".
func (c *Composition) Key() string {
	return c.Name + ":" + c.Version
}

// Validate reports every problem with the template as config.ValidationErrors.
func (c *Composition) Validate() error {
	var errs config.ValidationErrors

	if c.Name == "" {
		errs.Add("name", "is required")
	}
	if !versionPattern.MatchString(c.Version) {
		errs.Add("version", "must be a semantic version such as 1.0.0", c.Version)
	}
	if len(c.Elements) == 0 {
		errs.Add("elements", "must have at least one item")
	}

	seen := make(map[string]bool)
	for i, el := range c.Elements {
		field := fmt.Sprintf("elements[%d]", i)
		switch {
		case el.ID == "":
			errs.Add(field+".id", "is required")
		case seen[el.ID]:
			errs.Add(field+".id", "is declared more than once", el.ID)
		}
		seen[el.ID] = true
		if el.Type == "" {
			errs.Add(field+".type", "is required")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
