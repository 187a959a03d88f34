package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyGraph is returned when a definition has no nodes.
	ErrEmptyGraph = errors.New("definition graph has no nodes")

	// ErrDuplicateNode is returned when two nodes share an ID.
	ErrDuplicateNode = errors.New("duplicate node id in definition graph")

	// ErrUnknownDependency is returned when a node depends on a missing node.
	ErrUnknownDependency = errors.New("dependency references unknown node")

	// ErrCyclicGraph is returned when the dependency edges contain a cycle.
	ErrCyclicGraph = errors.New("definition graph contains a dependency cycle")
)

// IsGraphError reports whether err is one of the structural graph errors
// produced by ValidateGraph. Graph defects are client errors: the caller
// submitted (or instantiated) a malformed definition.
func IsGraphError(err error) bool {
	return errors.Is(err, ErrEmptyGraph) ||
		errors.Is(err, ErrDuplicateNode) ||
		errors.Is(err, ErrUnknownDependency) ||
		errors.Is(err, ErrCyclicGraph)
}

// ValidateGraph checks the structural integrity of the definition graph:
// node IDs must be unique, every dependency must reference an existing node
// and the dependency edges must form a DAG. Validated once at authoring and
// instantiation time; the graph is immutable afterwards.
func (d *WorkflowDefinition) ValidateGraph() error {
	if len(d.Nodes) == 0 {
		return ErrEmptyGraph
	}

	nodes := make(map[string]*DefinitionNode, len(d.Nodes))

	for _, node := range d.Nodes {
		if _, exists := nodes[node.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
		}

		nodes[node.ID] = node
	}

	for _, node := range d.Nodes {
		for _, dep := range node.DependsOn {
			if _, exists := nodes[dep]; !exists {
				return fmt.Errorf("%w: node %s depends on %s", ErrUnknownDependency, node.ID, dep)
			}
		}
	}

	if _, err := d.TopologicalOrder(); err != nil {
		return err
	}

	return nil
}

// TopologicalOrder returns the node IDs in a valid execution order using
// Kahn's algorithm, or ErrCyclicGraph when no such order exists.
func (d *WorkflowDefinition) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(d.Nodes))
	successors := make(map[string][]string, len(d.Nodes))

	for _, node := range d.Nodes {
		indegree[node.ID] = len(node.DependsOn)
		for _, dep := range node.DependsOn {
			successors[dep] = append(successors[dep], node.ID)
		}
	}

	queue := make([]string, 0, len(d.Nodes))

	for _, node := range d.Nodes {
		if indegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	order := make([]string, 0, len(d.Nodes))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, next := range successors[current] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(d.Nodes) {
		return nil, ErrCyclicGraph
	}

	return order, nil
}
