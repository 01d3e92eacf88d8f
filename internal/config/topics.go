package config

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/caselaw-cli/internal/heuristics"
)

// BuiltinPresets are topic lists available without a presets file.
var BuiltinPresets = map[string][]string{
	"civil_rights": {"1983", "due process", "child support", "title iv-d", "fourteenth amendment"},
}

// TopicPresets maps preset names to topic keyword lists.
type TopicPresets map[string][]string

// topicsFile is the on-disk layout:
//
//	presets:
//	  civil_rights: ["1983", "due process"]
type topicsFile struct {
	Presets map[string][]string `yaml:"presets"`
}

// LoadTopicPresets returns the built-in presets merged with those defined in
// the YAML file at path. File entries override built-ins with the same name.
// An empty path returns the built-ins only.
func LoadTopicPresets(path string) (TopicPresets, error) {
	presets := make(TopicPresets, len(BuiltinPresets))
	for name, topics := range BuiltinPresets {
		presets[name] = append([]string(nil), topics...)
	}
	if path == "" {
		return presets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read topics file %s", path)
	}
	var f topicsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse topics file %s", path)
	}
	for name, topics := range f.Presets {
		var clean []string
		for _, t := range topics {
			clean = append(clean, heuristics.SplitList(t)...)
		}
		if len(clean) == 0 {
			return nil, eris.Errorf("config: topic preset %q is empty", name)
		}
		presets[name] = clean
	}
	return presets, nil
}

// Resolve returns the topics of the named preset.
func (p TopicPresets) Resolve(name string) ([]string, error) {
	topics, ok := p[name]
	if !ok {
		return nil, eris.Errorf("config: unknown topic preset %q (available: %v)", name, p.Names())
	}
	return topics, nil
}

// Names lists preset names in sorted order.
func (p TopicPresets) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
