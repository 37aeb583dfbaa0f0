package graph

import (
	"fmt"

	"github.com/caseflow/caseflow/pkg/models"
)

// Validate checks the structural invariants of a workflow template graph:
// start and end presence, referential integrity of edges, connectivity,
// acyclicity, fork/join branch labeling and per-variant config schemas.
func Validate(template *models.WorkflowTemplate) error {
	if len(template.Nodes) == 0 {
		return NewGraphError("validate", "", ErrMissingStart)
	}

	nodesByID := make(map[string]*models.WorkflowNode, len(template.Nodes))

	var startCount, endCount int

	for _, node := range template.Nodes {
		if !node.Type.Valid() {
			return NewGraphError("validate", node.ID, fmt.Errorf("%w: unknown node type %q", ErrGraphInvalid, node.Type))
		}

		if _, dup := nodesByID[node.ID]; dup {
			return NewGraphError("validate", node.ID, fmt.Errorf("%w: duplicate node id", ErrGraphInvalid))
		}

		nodesByID[node.ID] = node

		switch node.Type {
		case models.NodeTypeStart:
			startCount++
		case models.NodeTypeEnd:
			endCount++
		}

		if err := validateNodeConfig(node); err != nil {
			return err
		}
	}

	if startCount != 1 {
		return NewGraphError("validate", "", ErrMissingStart)
	}

	if endCount == 0 {
		return NewGraphError("validate", "", ErrMissingEnd)
	}

	incoming := make(map[string]int, len(template.Nodes))

	for _, edge := range template.Edges {
		if _, ok := nodesByID[edge.SourceID]; !ok {
			return NewGraphError("validate", edge.SourceID, fmt.Errorf("%w: edge references unknown source", ErrGraphInvalid))
		}

		if _, ok := nodesByID[edge.TargetID]; !ok {
			return NewGraphError("validate", edge.TargetID, fmt.Errorf("%w: edge references unknown target", ErrGraphInvalid))
		}

		incoming[edge.TargetID]++
	}

	// Every node except start must be reachable through at least one edge.
	for _, node := range template.Nodes {
		if node.Type == models.NodeTypeStart {
			continue
		}

		if incoming[node.ID] == 0 {
			return NewGraphError("validate", node.ID, ErrDisconnected)
		}
	}

	if err := checkAcyclic(template); err != nil {
		return err
	}

	return checkForkJoin(template)
}

// checkAcyclic runs Kahn's algorithm; any node left with a nonzero
// in-degree sits on a cycle.
func checkAcyclic(template *models.WorkflowTemplate) error {
	inDegree := make(map[string]int, len(template.Nodes))
	adjacency := make(map[string][]string, len(template.Nodes))

	for _, node := range template.Nodes {
		inDegree[node.ID] = 0
	}

	for _, edge := range template.Edges {
		inDegree[edge.TargetID]++
		adjacency[edge.SourceID] = append(adjacency[edge.SourceID], edge.TargetID)
	}

	queue := make([]string, 0, len(template.Nodes))

	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(template.Nodes) {
		return NewGraphError("validate", "", ErrCyclic)
	}

	return nil
}

// checkForkJoin enforces branch labeling: each fork's outgoing edges must
// carry branch indices 0..N-1 exactly once, every non-fork edge stays
// unlabeled, and each join's required count must equal both its incoming
// edge count and the paired fork's branch count.
func checkForkJoin(template *models.WorkflowTemplate) error {
	forkBranches := make(map[string]int)

	for _, fork := range template.NodesByType(models.NodeTypeFork) {
		edges := template.OutgoingEdges(fork.ID)
		if len(edges) == 0 {
			return NewGraphError("validate", fork.ID, fmt.Errorf("%w: fork has no branches", ErrBranchMismatch))
		}

		seen := make(map[int]bool, len(edges))

		for _, edge := range edges {
			if edge.BranchIndex < 0 || edge.BranchIndex >= len(edges) {
				return NewGraphError("validate", fork.ID,
					fmt.Errorf("%w: branch index %d outside 0..%d", ErrBranchMismatch, edge.BranchIndex, len(edges)-1))
			}

			if seen[edge.BranchIndex] {
				return NewGraphError("validate", fork.ID,
					fmt.Errorf("%w: duplicate branch index %d", ErrBranchMismatch, edge.BranchIndex))
			}

			seen[edge.BranchIndex] = true
		}

		forkBranches[fork.ID] = len(edges)
	}

	for _, edge := range template.Edges {
		source := template.NodeByID(edge.SourceID)
		if source.Type != models.NodeTypeFork && edge.BranchIndex != models.UnlabeledBranch {
			return NewGraphError("validate", edge.SourceID,
				fmt.Errorf("%w: branch label on non-fork edge", ErrBranchMismatch))
		}
	}

	for _, join := range template.NodesByType(models.NodeTypeJoin) {
		var cfg models.JoinConfig
		if err := models.DecodeConfig(join, &cfg); err != nil {
			return NewGraphError("validate", join.ID, fmt.Errorf("%w: %v", ErrBadNodeConfig, err))
		}

		incoming := len(template.IncomingEdges(join.ID))
		if cfg.RequiredCount != incoming {
			return NewGraphError("validate", join.ID,
				fmt.Errorf("%w: join requires %d branches but has %d incoming edges", ErrBranchMismatch, cfg.RequiredCount, incoming))
		}

		fork := pairedFork(template, join)
		if fork != nil && forkBranches[fork.ID] != cfg.RequiredCount {
			return NewGraphError("validate", join.ID,
				fmt.Errorf("%w: join requires %d branches but paired fork has %d", ErrBranchMismatch, cfg.RequiredCount, forkBranches[fork.ID]))
		}
	}

	return nil
}

// pairedFork walks one hop upstream from each of the join's incoming edges
// and returns the common fork feeding the branches, or nil when the join
// is not fed by a fork.
func pairedFork(template *models.WorkflowTemplate, join *models.WorkflowNode) *models.WorkflowNode {
	var fork *models.WorkflowNode

	for _, edge := range template.IncomingEdges(join.ID) {
		branch := template.NodeByID(edge.SourceID)

		for _, upstream := range template.IncomingEdges(branch.ID) {
			source := template.NodeByID(upstream.SourceID)
			if source.Type != models.NodeTypeFork {
				continue
			}

			if fork != nil && fork.ID != source.ID {
				return nil
			}

			fork = source
		}
	}

	return fork
}
