// Package graph edits and validates workflow graphs.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/google/uuid"
)

var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrSelfLoop         = errors.New("a node cannot connect to itself")
	ErrInvalidCondition = errors.New("connection condition must be \"true\" or \"false\"")
	ErrCycle            = errors.New("workflow graph contains a cycle")
)

// NodeValidator checks a node's config against its template.
type NodeValidator interface {
	Validate(ctx context.Context, node *models.WorkflowNode) error
}

// ValidationError collects every structural problem found in a workflow graph.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid workflow graph: " + strings.Join(e.Problems, "; ")
}

// AddNode assigns a fresh id to node and appends it to the workflow.
func AddNode(w *models.Workflow, node *models.WorkflowNode) *models.WorkflowNode {
	node.ID = uuid.NewString()
	node.Connections = []string{}

	if node.Config == nil {
		node.Config = map[string]any{}
	}

	w.Nodes = append(w.Nodes, node)

	return node
}

// DeleteNode removes the node and every connection touching it.
func DeleteNode(w *models.Workflow, nodeID string) error {
	index := -1

	for i, node := range w.Nodes {
		if node.ID == nodeID {
			index = i

			break
		}
	}

	if index < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	w.Nodes = append(w.Nodes[:index], w.Nodes[index+1:]...)

	kept := w.Connections[:0]

	for _, conn := range w.Connections {
		if conn.From != nodeID && conn.To != nodeID {
			kept = append(kept, conn)
		}
	}

	w.Connections = kept

	rebuildAdjacency(w)

	return nil
}

// Connect adds an edge from -> to. An existing edge between the same pair is returned unchanged.
func Connect(w *models.Workflow, fromID, toID, condition string) (*models.Connection, error) {
	if fromID == toID {
		return nil, ErrSelfLoop
	}

	if !validCondition(condition) {
		return nil, ErrInvalidCondition
	}

	from := w.NodeByID(fromID)
	if from == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, fromID)
	}

	if w.NodeByID(toID) == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, toID)
	}

	for _, conn := range w.Connections {
		if conn.From == fromID && conn.To == toID {
			return conn, nil
		}
	}

	conn := &models.Connection{
		ID:        uuid.NewString(),
		From:      fromID,
		To:        toID,
		Condition: condition,
	}

	w.Connections = append(w.Connections, conn)
	from.Connections = append(from.Connections, conn.ID)

	return conn, nil
}

// UpdateNodePosition moves a node on the canvas.
func UpdateNodePosition(w *models.Workflow, nodeID string, position models.Position) error {
	node := w.NodeByID(nodeID)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	node.Position = position

	return nil
}

// Validate checks the graph structure, assigns missing connection ids,
// rebuilds every node's connections list from the edge list and, when
// validator is not nil, validates each node's config.
func Validate(ctx context.Context, w *models.Workflow, validator NodeValidator) error {
	var problems []string

	seen := make(map[string]bool, len(w.Nodes))

	for i, node := range w.Nodes {
		switch {
		case node == nil:
			problems = append(problems, fmt.Sprintf("node %d is empty", i))

			continue
		case node.ID == "":
			problems = append(problems, fmt.Sprintf("node %d has no id", i))
		case seen[node.ID]:
			problems = append(problems, "duplicate node id "+node.ID)
		}

		seen[node.ID] = true

		if !node.Type.Valid() {
			problems = append(problems, fmt.Sprintf("node %s has invalid type %q", node.ID, node.Type))
		}

		if validator != nil && node.Type.Valid() {
			err := validator.Validate(ctx, node)
			if err != nil {
				problems = append(problems, err.Error())
			}
		}
	}

	pairs := make(map[[2]string]bool, len(w.Connections))

	for i, conn := range w.Connections {
		if conn == nil {
			problems = append(problems, fmt.Sprintf("connection %d is empty", i))

			continue
		}

		if conn.ID == "" {
			conn.ID = uuid.NewString()
		}

		switch {
		case !seen[conn.From]:
			problems = append(problems, fmt.Sprintf("connection %s references unknown node %q", conn.ID, conn.From))
		case !seen[conn.To]:
			problems = append(problems, fmt.Sprintf("connection %s references unknown node %q", conn.ID, conn.To))
		case conn.From == conn.To:
			problems = append(problems, fmt.Sprintf("connection %s is a self-loop on %s", conn.ID, conn.From))
		}

		if !validCondition(conn.Condition) {
			problems = append(problems, fmt.Sprintf("connection %s has invalid condition %q", conn.ID, conn.Condition))
		}

		pair := [2]string{conn.From, conn.To}
		if pairs[pair] {
			problems = append(problems, fmt.Sprintf("duplicate connection %s -> %s", conn.From, conn.To))
		}

		pairs[pair] = true
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	rebuildAdjacency(w)

	return nil
}

// Roots returns the nodes without incoming connections in declaration order.
func Roots(w *models.Workflow) []*models.WorkflowNode {
	incoming := make(map[string]int, len(w.Nodes))
	for _, conn := range w.Connections {
		incoming[conn.To]++
	}

	var roots []*models.WorkflowNode

	for _, node := range w.Nodes {
		if incoming[node.ID] == 0 {
			roots = append(roots, node)
		}
	}

	return roots
}

// Outgoing returns the connections leaving nodeID in declaration order.
func Outgoing(w *models.Workflow, nodeID string) []*models.Connection {
	var out []*models.Connection

	for _, conn := range w.Connections {
		if conn.From == nodeID {
			out = append(out, conn)
		}
	}

	return out
}

// TopologicalOrder returns the nodes in an order where every edge points
// forward. Ties keep declaration order.
func TopologicalOrder(w *models.Workflow) ([]*models.WorkflowNode, error) {
	indegree := make(map[string]int, len(w.Nodes))
	for _, conn := range w.Connections {
		indegree[conn.To]++
	}

	queue := Roots(w)
	order := make([]*models.WorkflowNode, 0, len(w.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, conn := range Outgoing(w, node.ID) {
			indegree[conn.To]--
			if indegree[conn.To] == 0 {
				if next := w.NodeByID(conn.To); next != nil {
					queue = append(queue, next)
				}
			}
		}
	}

	if len(order) != len(w.Nodes) {
		return nil, ErrCycle
	}

	return order, nil
}

func rebuildAdjacency(w *models.Workflow) {
	edges := make(map[string][]string, len(w.Nodes))
	for _, conn := range w.Connections {
		edges[conn.From] = append(edges[conn.From], conn.ID)
	}

	for _, node := range w.Nodes {
		node.Connections = edges[node.ID]
		if node.Connections == nil {
			node.Connections = []string{}
		}
	}
}

func validCondition(condition string) bool {
	return condition == "" || condition == models.BranchTrue || condition == models.BranchFalse
}
