package graph

import "fmt"

// BuildContext carries the per-submodel naming state threaded explicitly
// through every block constructor. Generated tensor names are unique per
// submodel via the id prefix rather than a global counter.
type BuildContext struct {
	submodelID int
}

// NewBuildContext creates the naming context for one submodel.
func NewBuildContext(submodelID int) *BuildContext {
	return &BuildContext{submodelID: submodelID}
}

// SubmodelID returns the submodel index this context names for.
func (c *BuildContext) SubmodelID() int { return c.submodelID }

// TensorName builds a submodel-scoped tensor name.
func (c *BuildContext) TensorName(prefix, name string) string {
	return fmt.Sprintf("%d_%s%s", c.submodelID, prefix, name)
}

// NameOutput renames a node output with the submodel-scoped convention.
func (c *BuildContext) NameOutput(n *Node, prefix, name string, outIdx int) {
	n.Output(outIdx).SetName(c.TensorName(prefix, name))
}
