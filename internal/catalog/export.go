package catalog

import "toolctl/internal/schema"

// FunctionDeclaration is one catalog entry in the export format handed to a
// calling agent: a function-style declaration derived 1:1 from the snapshot.
type FunctionDeclaration struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec carries the callable surface of a single tool.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  *schema.Schema `json:"parameters"`
}

// Functions exports the latest snapshot as function declarations.
func (c *Catalog) Functions() []FunctionDeclaration {
	snapshot := c.List()

	decls := make([]FunctionDeclaration, len(snapshot))
	for i, d := range snapshot {
		decls[i] = FunctionDeclaration{
			Type: "function",
			Function: FunctionSpec{
				Name:        d.QualifiedName,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return decls
}
