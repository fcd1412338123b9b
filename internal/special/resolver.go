// Package special resolves which configured special resources and
// dependencies participate in a sync. The resolver is a pure view over the
// environment's settings; it performs no I/O.
package special

import "addonsync/internal/config"

// Status describes a resource's role among the configured specials. A
// resource can be special and a dependency at the same time.
type Status struct {
	IsSpecial    bool
	IsDependency bool
	ParentIDs    []int64
}

// Resolver indexes the environment's special-resource configuration.
type Resolver struct {
	specials map[int64]config.SpecialResource

	optedIn map[int64]struct{}
	// dependency id -> opted-in parents that declare it with opt_in
	dependencyParents map[int64]map[int64]struct{}
}

// NewResolver builds the opted-in and dependency indexes. Dependencies only
// count when both sides opt in: the parent special and the dependency entry.
func NewResolver(specials map[int64]config.SpecialResource) *Resolver {
	r := &Resolver{
		specials:          specials,
		optedIn:           map[int64]struct{}{},
		dependencyParents: map[int64]map[int64]struct{}{},
	}

	for parentID, parent := range specials {
		if !parent.OptIn {
			continue
		}
		r.optedIn[parentID] = struct{}{}
		for depID, dep := range parent.Dependencies {
			if !dep.OptIn {
				continue
			}
			if r.dependencyParents[depID] == nil {
				r.dependencyParents[depID] = map[int64]struct{}{}
			}
			r.dependencyParents[depID][parentID] = struct{}{}
		}
	}

	return r
}

// IsOptedIn reports whether the resource is an opted-in special.
func (r *Resolver) IsOptedIn(resourceID int64) bool {
	_, ok := r.optedIn[resourceID]
	return ok
}

// ComputeStatus returns the role of each candidate resource. A nil candidate
// list means all opted-in specials plus all of their opted-in dependencies.
// An explicit candidate list additionally pulls in the opted-in dependencies
// of any candidate that is itself an opted-in special.
func (r *Resolver) ComputeStatus(candidates []int64) map[int64]Status {
	ids := map[int64]struct{}{}
	if candidates == nil {
		for id := range r.optedIn {
			ids[id] = struct{}{}
		}
		for id := range r.dependencyParents {
			ids[id] = struct{}{}
		}
	} else {
		for _, id := range candidates {
			ids[id] = struct{}{}
		}
		for _, id := range candidates {
			parent, ok := r.specials[id]
			if !ok || !parent.OptIn {
				continue
			}
			for depID, dep := range parent.Dependencies {
				if dep.OptIn {
					ids[depID] = struct{}{}
				}
			}
		}
	}

	status := make(map[int64]Status, len(ids))
	for id := range ids {
		parents := make([]int64, 0, len(r.dependencyParents[id]))
		for parentID := range r.dependencyParents[id] {
			parents = append(parents, parentID)
		}
		status[id] = Status{
			IsSpecial:    r.IsOptedIn(id),
			IsDependency: len(parents) > 0,
			ParentIDs:    parents,
		}
	}

	return status
}

// Flatten reports whether the resource's archive should be flattened when
// installed under the given parent. A flatten setting on the dependency
// entry overrides the resource's own; parentID 0 means standalone.
func (r *Resolver) Flatten(resourceID, parentID int64) bool {
	if parentID != 0 {
		if parent, ok := r.specials[parentID]; ok {
			if dep, ok := parent.Dependencies[resourceID]; ok && dep.Flatten != nil {
				return *dep.Flatten
			}
		}
	}
	if special, ok := r.specials[resourceID]; ok {
		return special.Flatten
	}
	return false
}
