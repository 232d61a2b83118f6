package flow

import (
	"github.com/mohitkumar/drip/model"
)

// Linearize walks a flow graph from its emailList entry along the single
// outgoing edge of every node and returns the visited nodes as blocks.
// Nodes not reachable from the entry are ignored.
func Linearize(nodes []model.Node, edges []model.Edge) (model.Sequence, error) {
	nodeMap := make(map[string]model.Node, len(nodes))
	var entries []string
	for _, node := range nodes {
		if _, ok := nodeMap[node.Id]; ok {
			return nil, DuplicateNodeError{NodeId: node.Id}
		}
		nodeMap[node.Id] = node
		if node.Type == model.BLOCK_TYPE_EMAIL_LIST {
			entries = append(entries, node.Id)
		}
	}

	next := make(map[string]string, len(edges))
	targets := make(map[string][]string)
	for _, edge := range edges {
		_, srcOk := nodeMap[edge.Source]
		_, dstOk := nodeMap[edge.Target]
		if !srcOk || !dstOk {
			return nil, DanglingEdgeError{Source: edge.Source, Target: edge.Target}
		}
		targets[edge.Source] = append(targets[edge.Source], edge.Target)
		next[edge.Source] = edge.Target
	}
	// checked in node order so the reported node is deterministic
	for _, node := range nodes {
		if t := targets[node.Id]; len(t) > 1 {
			return nil, BranchingError{NodeId: node.Id, Targets: t}
		}
	}

	switch len(entries) {
	case 0:
		return nil, MissingEntryError{}
	case 1:
	default:
		return nil, MultipleEntryError{NodeIds: entries}
	}

	if err := detectCycle(nodes, next); err != nil {
		return nil, err
	}

	visited := make(map[string]bool, len(nodes))
	path := make([]string, 0, len(nodes))
	seq := make(model.Sequence, 0, len(nodes))
	current, ok := entries[0], true
	for ok {
		if visited[current] {
			return nil, CycleError{Path: append(path, current)}
		}
		visited[current] = true
		path = append(path, current)
		seq = append(seq, nodeMap[current].ToBlock())
		current, ok = next[current]
	}
	return seq, nil
}

// detectCycle also covers components that are not reachable from the entry.
// Every node has at most one successor, so one walk per unexplored node is
// enough.
func detectCycle(nodes []model.Node, next map[string]string) error {
	done := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		if done[node.Id] {
			continue
		}
		onPath := make(map[string]bool)
		var path []string
		current, ok := node.Id, true
		for ok && !done[current] {
			if onPath[current] {
				return CycleError{Path: append(path, current)}
			}
			onPath[current] = true
			path = append(path, current)
			current, ok = next[current]
		}
		for id := range onPath {
			done[id] = true
		}
	}
	return nil
}

// Validate reports structural problems of a flow without returning the
// sequence.
func Validate(fl *model.Flow) error {
	_, err := Linearize(fl.Nodes, fl.Edges)
	return err
}
