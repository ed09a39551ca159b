package core

import "strings"

// ModuleID is a dotted module identifier such as "store.sqlite". The part
// before the first dot is the namespace.
type ModuleID string

// Namespace returns the first segment of the ID.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns everything after the namespace, or the whole ID when it has
// no namespace.
func (id ModuleID) Name() string {
	_, name, ok := strings.Cut(string(id), ".")
	if !ok {
		return string(id)
	}
	return name
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is implemented by every pluggable component. Optional lifecycle
// hooks are the interfaces in lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
