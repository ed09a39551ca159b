package config

import (
	"slices"
	"strings"
)

// Resolve returns the module IDs to load for the given namespaces, in
// namespace order and sorted by ID within a namespace. For the "store"
// namespace only the selected Store is returned, whether or not it has a
// modules entry.
func Resolve(cfg *Config, namespaces ...string) []string {
	var ids []string
	for _, ns := range namespaces {
		if ns == "store" {
			ids = append(ids, cfg.Store)
			continue
		}
		var group []string
		for id := range cfg.Modules {
			if strings.HasPrefix(id, ns+".") {
				group = append(group, id)
			}
		}
		slices.Sort(group)
		ids = append(ids, group...)
	}
	return ids
}
