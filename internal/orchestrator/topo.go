package orchestrator

import "github.com/conorvenus/microstack/internal/apierror"

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// topologicalOrder runs a depth-first topological sort over each
// entry's DependsOn edges. Resources with no dependency keep their
// order of first appearance in entries; a cycle or a reference to an
// unknown logical id is a validation error.
func topologicalOrder(entries []resourceEntry) ([]string, error) {
	byID := make(map[string]resourceTemplate, len(entries))
	for _, e := range entries {
		byID[e.LogicalID] = e.Template
	}

	color := make(map[string]int, len(entries))
	var order []string

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case colorBlack:
			return nil
		case colorGray:
			return apierror.New(apierror.InvalidArgument, "circular DependsOn involving %q", id)
		}
		tmpl, ok := byID[id]
		if !ok {
			return apierror.New(apierror.InvalidArgument, "DependsOn references unknown resource %q", id)
		}
		color[id] = colorGray
		for _, dep := range tmpl.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = colorBlack
		order = append(order, id)
		return nil
	}

	for _, e := range entries {
		if err := visit(e.LogicalID); err != nil {
			return nil, err
		}
	}
	return order, nil
}
