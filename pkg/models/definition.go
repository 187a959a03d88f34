// Package models defines the core domain models for workflow definitions,
// instances, steps and approvals.
package models

import "time"

// Visibility controls whether a definition is usable as a shared template.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"  // Listed as a template, clonable by anyone
	VisibilityPrivate Visibility = "private" // Visible to the owner only
)

// StepKind represents the action kind a definition node executes.
type StepKind string

const (
	StepKindApproval     StepKind = "approval"     // Blocks until a human decision arrives
	StepKindAutomation   StepKind = "automation"   // Invokes an external action
	StepKindNotification StepKind = "notification" // Fire-and-forget message
)

// DefinitionNode is a step template within a workflow definition graph.
// DependsOn lists predecessor node IDs; a step instantiated from this node
// may only run once all predecessors reached a terminal-success state.
type DefinitionNode struct {
	ID        string         `json:"id"         validate:"required"`
	Name      string         `json:"name"       validate:"required,min=1"`
	Kind      StepKind       `json:"kind"       validate:"required,oneof=approval automation notification"`
	Config    map[string]any `json:"config"`
	DependsOn []string       `json:"depends_on"`
	Optional  bool           `json:"optional"`
	// FailOnError applies to notification nodes only: when false (the
	// default) a failed delivery is logged but the step still completes.
	FailOnError *bool `json:"fail_on_error,omitempty"`
}

// DefinitionEdge is a derived dependency edge between two nodes.
type DefinitionEdge struct {
	FromNode string `json:"from_node"`
	ToNode   string `json:"to_node"`
}

// WorkflowDefinition is an immutable, versioned description of a workflow
// graph. Published definitions are never mutated in place; instances snapshot
// the graph at creation time.
type WorkflowDefinition struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Industry    string            `json:"industry"`
	Tags        []string          `json:"tags"`
	Visibility  Visibility        `json:"visibility"  validate:"required,oneof=public private"`
	Nodes       []*DefinitionNode `json:"nodes"`
	Version     int               `json:"version"`
	UsageCount  int64             `json:"usage_count"`
	OwnerID     string            `json:"owner_id"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// IsPublic reports whether the definition is a shared template.
func (d *WorkflowDefinition) IsPublic() bool {
	return d.Visibility == VisibilityPublic
}

// Node returns the node with the given ID.
func (d *WorkflowDefinition) Node(id string) (*DefinitionNode, bool) {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// Edges derives the dependency edge list from the node graph.
func (d *WorkflowDefinition) Edges() []DefinitionEdge {
	edges := make([]DefinitionEdge, 0)

	for _, node := range d.Nodes {
		for _, dep := range node.DependsOn {
			edges = append(edges, DefinitionEdge{FromNode: dep, ToNode: node.ID})
		}
	}

	return edges
}

// CloneNodes deep-copies the node graph, assigning fresh IDs from newID and
// rewriting dependency references through an old-to-new remapping table. The
// clone shares no structure with the source.
func (d *WorkflowDefinition) CloneNodes(newID func() string) []*DefinitionNode {
	remap := make(map[string]string, len(d.Nodes))
	for _, node := range d.Nodes {
		remap[node.ID] = newID()
	}

	cloned := make([]*DefinitionNode, 0, len(d.Nodes))

	for _, node := range d.Nodes {
		clone := &DefinitionNode{
			ID:       remap[node.ID],
			Name:     node.Name,
			Kind:     node.Kind,
			Optional: node.Optional,
		}

		if node.Config != nil {
			clone.Config = make(map[string]any, len(node.Config))
			for k, v := range node.Config {
				clone.Config[k] = v
			}
		}

		if len(node.DependsOn) > 0 {
			clone.DependsOn = make([]string, 0, len(node.DependsOn))
			for _, dep := range node.DependsOn {
				clone.DependsOn = append(clone.DependsOn, remap[dep])
			}
		}

		if node.FailOnError != nil {
			failOnError := *node.FailOnError
			clone.FailOnError = &failOnError
		}

		cloned = append(cloned, clone)
	}

	return cloned
}
