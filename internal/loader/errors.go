package loader

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the loader. The typed errors below unwrap to them.
var (
	ErrCircularDependency = errors.New("circular dependency")
	ErrDependenciesNotMet = errors.New("dependencies not met")
	ErrModuleInUse        = errors.New("module in use")
	ErrNotLoaded          = errors.New("module not loaded")
	ErrDuplicateModule    = errors.New("module configured in more than one category")
)

// CycleError reports a dependency cycle found while sorting descriptors.
type CycleError struct {
	Module string   // Module seen twice on the current path
	Path   []string // Path from the first repeated module back to itself
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected involving module %q (%s)",
		e.Module, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCircularDependency }

// DependencyError reports a load attempted before its dependencies were loaded.
type DependencyError struct {
	Module  string
	Missing []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependencies not met for module %q: missing %v", e.Module, e.Missing)
}

func (e *DependencyError) Unwrap() error { return ErrDependenciesNotMet }

// InUseError reports an unload refused because loaded modules still depend on it.
type InUseError struct {
	Module     string
	Dependents []string
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("cannot unload %q: depended on by %v", e.Module, e.Dependents)
}

func (e *InUseError) Unwrap() error { return ErrModuleInUse }
