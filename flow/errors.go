package flow

import (
	"fmt"
	"strings"
)

// StructuralError is implemented by every error that rejects a flow graph
// before compilation.
type StructuralError interface {
	error
	structural()
}

type MissingEntryError struct{}

func (e MissingEntryError) Error() string {
	return "flow has no emailList entry node"
}

type MultipleEntryError struct {
	NodeIds []string
}

func (e MultipleEntryError) Error() string {
	return fmt.Sprintf("flow has %d emailList entry nodes (%s), expected exactly one", len(e.NodeIds), strings.Join(e.NodeIds, ", "))
}

type BranchingError struct {
	NodeId  string
	Targets []string
}

func (e BranchingError) Error() string {
	return fmt.Sprintf("node %s has %d outgoing edges (%s), branching is not supported", e.NodeId, len(e.Targets), strings.Join(e.Targets, ", "))
}

type CycleError struct {
	Path []string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("flow contains a cycle: %s", strings.Join(e.Path, " -> "))
}

type DuplicateNodeError struct {
	NodeId string
}

func (e DuplicateNodeError) Error() string {
	return fmt.Sprintf("node id %s is duplicate", e.NodeId)
}

type DanglingEdgeError struct {
	Source string
	Target string
}

func (e DanglingEdgeError) Error() string {
	return fmt.Sprintf("edge %s -> %s references an unknown node", e.Source, e.Target)
}

func (MissingEntryError) structural()  {}
func (MultipleEntryError) structural() {}
func (BranchingError) structural()     {}
func (CycleError) structural()         {}
func (DuplicateNodeError) structural() {}
func (DanglingEdgeError) structural()  {}
