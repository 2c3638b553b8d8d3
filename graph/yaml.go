package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlGraph is the on-disk fixture format:
//
//	nodes:
//	  - id: split
//	    kind: fork
//	    config: {policy: race_first, timeout: "500"}
//	  - id: a
//	    activity: sleep
//	edges:
//	  - {from: split, to: a}
type yamlGraph struct {
	Nodes []yamlNode `yaml:"nodes"`
	Edges []Edge     `yaml:"edges"`
}

type yamlNode struct {
	ID       string            `yaml:"id"`
	Kind     string            `yaml:"kind"`
	Activity string            `yaml:"activity"`
	Config   map[string]string `yaml:"config"`
}

// LoadYAML builds a Graph from its YAML description.
func LoadYAML(data []byte) (*Graph, error) {
	var doc yamlGraph
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("graph: parse yaml: %w", err)
	}

	b := NewBuilder()
	for _, yn := range doc.Nodes {
		kind, err := ParseKind(yn.Kind)
		if err != nil {
			return nil, fmt.Errorf("graph: node %q: %w", yn.ID, err)
		}
		b.Node(yn.ID, kind, WithActivity(yn.Activity), WithConfigMap(yn.Config))
	}
	for _, e := range doc.Edges {
		b.Edge(e.Source, e.Target)
	}
	return b.Build()
}

// LoadYAMLFile reads and builds a Graph from a YAML file.
func LoadYAMLFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read %s: %w", path, err)
	}
	return LoadYAML(data)
}
