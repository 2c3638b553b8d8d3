package graph

import (
	"errors"
	"fmt"
	"maps"
)

// NodeOption configures a node added through a Builder.
type NodeOption func(*Node)

// WithActivity sets the activity the sequential executor runs for the node.
func WithActivity(name string) NodeOption {
	return func(n *Node) { n.Activity = name }
}

// WithConfig sets a single configuration key on the node.
func WithConfig(key, value string) NodeOption {
	return func(n *Node) {
		if n.Config == nil {
			n.Config = make(map[string]string)
		}
		n.Config[key] = value
	}
}

// WithConfigMap merges cfg into the node's configuration.
func WithConfigMap(cfg map[string]string) NodeOption {
	return func(n *Node) {
		if len(cfg) == 0 {
			return
		}
		if n.Config == nil {
			n.Config = make(map[string]string, len(cfg))
		}
		maps.Copy(n.Config, cfg)
	}
}

// Builder assembles a Graph. Errors are collected and reported by Build.
type Builder struct {
	nodes map[string]*Node
	order []string
	edges []Edge
	errs  []error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{nodes: make(map[string]*Node)}
}

// Ordinary adds an Ordinary node.
func (b *Builder) Ordinary(id string, opts ...NodeOption) *Builder {
	return b.Node(id, KindOrdinary, opts...)
}

// Fork adds a Fork node.
func (b *Builder) Fork(id string, opts ...NodeOption) *Builder {
	return b.Node(id, KindFork, opts...)
}

// Join adds a Join node.
func (b *Builder) Join(id string, opts ...NodeOption) *Builder {
	return b.Node(id, KindJoin, opts...)
}

// Node adds a node of the given kind.
func (b *Builder) Node(id string, kind Kind, opts ...NodeOption) *Builder {
	if id == "" {
		b.errs = append(b.errs, errors.New("graph: node id is required"))
		return b
	}
	if _, dup := b.nodes[id]; dup {
		b.errs = append(b.errs, fmt.Errorf("graph: duplicate node %q", id))
		return b
	}
	n := &Node{ID: id, Kind: kind}
	for _, opt := range opts {
		opt(n)
	}
	b.nodes[id] = n
	b.order = append(b.order, id)
	return b
}

// Edge adds a directed edge. Endpoints are resolved by Build.
func (b *Builder) Edge(from, to string) *Builder {
	b.edges = append(b.edges, Edge{Source: from, Target: to})
	return b
}

// Build resolves edges and returns the immutable Graph. It checks only
// structural integrity; use Validate for gateway topology rules.
// A Builder must not be reused after Build.
func (b *Builder) Build() (*Graph, error) {
	errs := append([]error(nil), b.errs...)
	for _, e := range b.edges {
		src, ok := b.nodes[e.Source]
		if !ok {
			errs = append(errs, fmt.Errorf("graph: edge %s->%s: unknown source", e.Source, e.Target))
			continue
		}
		dst, ok := b.nodes[e.Target]
		if !ok {
			errs = append(errs, fmt.Errorf("graph: edge %s->%s: unknown target", e.Source, e.Target))
			continue
		}
		src.outgoing = append(src.outgoing, e)
		dst.incoming = append(dst.incoming, e)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Graph{nodes: b.nodes, order: b.order}, nil
}
