package loader

import "slices"

// SortByDependencies orders list so every descriptor follows the descriptors
// it depends on. Dependency names missing from list are treated as satisfied.
// Independent descriptors keep their input order. A cycle yields *CycleError
// and no ordering.
func SortByDependencies(list []Descriptor) ([]Descriptor, error) {
	index := make(map[string]int, len(list))
	for i, d := range list {
		if _, dup := index[d.Name]; !dup {
			index[d.Name] = i
		}
	}

	var (
		visiting = make(map[string]bool, len(list))
		visited  = make(map[string]bool, len(list))
		stack    = make([]string, 0, len(list))
		sorted   = make([]Descriptor, 0, len(list))
	)

	var visit func(d Descriptor) error
	visit = func(d Descriptor) error {
		if visited[d.Name] {
			return nil
		}
		if visiting[d.Name] {
			start := slices.Index(stack, d.Name)
			path := append(slices.Clone(stack[start:]), d.Name)
			return &CycleError{Module: d.Name, Path: path}
		}

		visiting[d.Name] = true
		stack = append(stack, d.Name)
		for _, dep := range d.Dependencies {
			i, ok := index[dep]
			if !ok {
				continue
			}
			if err := visit(list[i]); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(visiting, d.Name)
		visited[d.Name] = true

		sorted = append(sorted, d)
		return nil
	}

	for _, d := range list {
		if err := visit(d); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}
