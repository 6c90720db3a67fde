package depgraph

import "errors"

// ErrCycle is returned by Graph.TopoSort when the requested issue set
// contains a dependency cycle. Fatal in sequential/chain modes per
// spec.md §4.10/§7.
var ErrCycle = errors.New("depgraph: dependency cycle detected")
