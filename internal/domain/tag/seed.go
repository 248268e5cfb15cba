package tag

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed master_tags.yaml
var masterTagsYAML []byte

type seedRule struct {
	Pattern  string   `yaml:"pattern"`
	Type     RuleType `yaml:"type"`
	Disabled bool     `yaml:"disabled"`
}

type seedTag struct {
	Name     string     `yaml:"name"`
	Color    string     `yaml:"color"`
	Category string     `yaml:"category"`
	Rules    []seedRule `yaml:"rules"`
}

// ParseMasterTags decodes a master tag document. Nil data reads the
// embedded defaults.
func ParseMasterTags(data []byte) ([]Tag, error) {
	if data == nil {
		data = masterTagsYAML
	}
	var raw []seedTag
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode master tags: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	tags := make([]Tag, 0, len(raw))
	for i, st := range raw {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			return nil, fmt.Errorf("master tag %d: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("master tag %q: duplicate name", name)
		}
		seen[name] = true

		t := Tag{
			Name:     name,
			Color:    st.Color,
			Category: st.Category,
			IsMaster: true,
		}
		if t.Color == "" {
			t.Color = Palette[i%len(Palette)]
		}
		if t.Category == "" {
			t.Category = DefaultCategory
		}
		for _, sr := range st.Rules {
			if !sr.Type.Valid() {
				return nil, fmt.Errorf("master tag %q: unknown rule type %q", name, sr.Type)
			}
			if strings.TrimSpace(sr.Pattern) == "" {
				return nil, fmt.Errorf("master tag %q: empty rule pattern", name)
			}
			t.Rules = append(t.Rules, MatchRule{Pattern: sr.Pattern, Type: sr.Type, Enabled: !sr.Disabled})
		}
		tags = append(tags, t)
	}
	return tags, nil
}
