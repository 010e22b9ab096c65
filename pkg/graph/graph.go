package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NodeID identifies a node within one graph
type NodeID string

// Ref is a reference to another node's output slot, distinct from a
// literal parameter value. The engine wire format encodes it as
// ["node-id", slot].
type Ref struct {
	Node NodeID
	Slot int
}

// Input is a single node parameter: either a literal value or a Ref
type Input struct {
	ref     *Ref
	literal interface{}
}

// Lit wraps a literal parameter value
func Lit(v interface{}) Input { return Input{literal: v} }

// RefTo wraps a reference to another node's output
func RefTo(node NodeID, slot int) Input { return Input{ref: &Ref{Node: node, Slot: slot}} }

// Ref returns the reference and true when the input is not a literal
func (in Input) Ref() (Ref, bool) {
	if in.ref == nil {
		return Ref{}, false
	}
	return *in.ref, true
}

// Literal returns the literal value; only meaningful when Ref() reports false
func (in Input) Literal() interface{} { return in.literal }

func (in Input) MarshalJSON() ([]byte, error) {
	if in.ref != nil {
		return json.Marshal([2]interface{}{string(in.ref.Node), in.ref.Slot})
	}
	return json.Marshal(in.literal)
}

// Node is one operation in a graph: an operation kind plus named inputs
type Node struct {
	Kind   string
	Title  string
	Inputs map[string]Input
}

// Graph is an ordered mapping from NodeID to Node. Nodes are appended
// during assembly and immutable once the graph is handed to the engine
// client.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID
}

// New returns an empty graph
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// Add appends a node under id. Duplicate ids are an assembly bug.
func (g *Graph) Add(id NodeID, n *Node) {
	if _, dup := g.nodes[id]; dup {
		panic(fmt.Sprintf("graph: duplicate node id %q", id))
	}
	g.nodes[id] = n
	g.order = append(g.order, id)
}

// Node returns the node stored under id, or nil
func (g *Graph) Node(id NodeID) *Node { return g.nodes[id] }

// Len returns the node count
func (g *Graph) Len() int { return len(g.order) }

// NodeIDs returns the ids in insertion order
func (g *Graph) NodeIDs() []NodeID {
	out := make([]NodeID, len(g.order))
	copy(out, g.order)
	return out
}

// CountKind returns the number of nodes with the given operation kind
func (g *Graph) CountKind(kind string) int {
	n := 0
	for _, id := range g.order {
		if g.nodes[id].Kind == kind {
			n++
		}
	}
	return n
}

// Validate checks the structural invariants: every reference resolves to a
// node present in the graph, and no chain of references forms a cycle.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for name, in := range g.nodes[id].Inputs {
			ref, ok := in.Ref()
			if !ok {
				continue
			}
			if _, exists := g.nodes[ref.Node]; !exists {
				return fmt.Errorf("node %s input %q references missing node %s", id, name, ref.Node)
			}
		}
	}
	return g.checkAcyclic()
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

func (g *Graph) checkAcyclic() error {
	colors := make(map[NodeID]int, len(g.nodes))
	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		colors[id] = colorGray
		for _, in := range g.nodes[id].Inputs {
			ref, ok := in.Ref()
			if !ok {
				continue
			}
			switch colors[ref.Node] {
			case colorGray:
				return fmt.Errorf("reference cycle through node %s", ref.Node)
			case colorWhite:
				if err := visit(ref.Node); err != nil {
					return err
				}
			}
		}
		colors[id] = colorBlack
		return nil
	}
	for _, id := range g.order {
		if colors[id] == colorWhite {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarshalJSON emits the engine wire format: id → {inputs, class_type, _meta},
// nodes in insertion order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range g.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(id))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		body, err := json.Marshal(wireNode{
			Inputs: g.nodes[id].Inputs,
			Kind:   g.nodes[id].Kind,
			Meta:   wireMeta{Title: g.nodes[id].Title},
		})
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type wireNode struct {
	Inputs map[string]Input `json:"inputs"`
	Kind   string           `json:"class_type"`
	Meta   wireMeta         `json:"_meta"`
}

type wireMeta struct {
	Title string `json:"title"`
}
