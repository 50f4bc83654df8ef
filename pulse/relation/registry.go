// Package relation holds the declarative relationship table between entity types
// and computes what a delete would touch.
//
// The registry is built once at startup from a table and passed to its consumers;
// there is no package-level instance.
package relation

import (
	"context"
	"fmt"
	"sort"

	"github.com/teranos/dialpulse/errors"
)

// EntityType names a kind of persisted entity
type EntityType string

// Cardinality of a relationship, read from the first type to the second
type Cardinality int

const (
	OneToOne Cardinality = iota
	OneToMany
	ManyToOne
	ManyToMany
)

func (c Cardinality) String() string {
	switch c {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// Inverse returns the cardinality read from the other side
func (c Cardinality) Inverse() Cardinality {
	switch c {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	default:
		return c
	}
}

// Relationship is one row of the declarative table.
// KeyOnly relationships reference by id alone and are never checked on delete.
// Cascade means dependents on the B side are deleted along with A instead of blocking.
type Relationship struct {
	A           EntityType
	B           EntityType
	Cardinality Cardinality
	KeyOnly     bool
	Cascade     bool
}

type pair struct{ a, b EntityType }

// Registry is a bidirectional lookup over a relationship table
type Registry struct {
	byPair map[pair]Relationship
	byType map[EntityType][]Relationship
}

// NewRegistry builds a registry from a table. Each row is registered in both
// directions; declaring the same pair twice is an error.
func NewRegistry(table []Relationship) (*Registry, error) {
	r := &Registry{
		byPair: make(map[pair]Relationship),
		byType: make(map[EntityType][]Relationship),
	}
	for _, rel := range table {
		if rel.A == "" || rel.B == "" {
			return nil, errors.Newf("relationship %v has an empty type", rel)
		}
		inverse := Relationship{
			A:           rel.B,
			B:           rel.A,
			Cardinality: rel.Cardinality.Inverse(),
			KeyOnly:     rel.KeyOnly,
		}
		for _, side := range []Relationship{rel, inverse} {
			key := pair{side.A, side.B}
			if _, dup := r.byPair[key]; dup {
				return nil, errors.Newf("relationship %s -> %s declared twice", side.A, side.B)
			}
			r.byPair[key] = side
			r.byType[side.A] = append(r.byType[side.A], side)
		}
	}
	return r, nil
}

// Lookup returns the relationship from a to b
func (r *Registry) Lookup(a, b EntityType) (Relationship, bool) {
	rel, ok := r.byPair[pair{a, b}]
	return rel, ok
}

// RelationshipsOf returns every relationship read from t
func (r *Registry) RelationshipsOf(t EntityType) []Relationship {
	rels := append([]Relationship(nil), r.byType[t]...)
	sort.Slice(rels, func(i, j int) bool { return rels[i].B < rels[j].B })
	return rels
}

// dependentRelationships are the relationships where t owns entities on the other side
func (r *Registry) dependentRelationships(t EntityType) []Relationship {
	var out []Relationship
	for _, rel := range r.RelationshipsOf(t) {
		if rel.KeyOnly {
			continue
		}
		if rel.Cardinality == OneToMany || rel.Cardinality == OneToOne {
			out = append(out, rel)
		}
	}
	return out
}

// Ref identifies an entity for display
type Ref struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
	Name string     `json:"name"`
}

// Resolver finds the entities of type to related to (from, id)
type Resolver interface {
	Related(ctx context.Context, from EntityType, id string, to EntityType) ([]Ref, error)
}

// Plan is the outcome of a delete check.
// Cascade lists entities that go with the target, dependents before owners.
// Blocking lists entities that prevent the delete; a non-empty Blocking means reject.
type Plan struct {
	Cascade  []Ref
	Blocking []Ref
}

// Allowed reports whether the delete may proceed
func (p Plan) Allowed() bool {
	return len(p.Blocking) == 0
}

// PlanDelete walks the dependency graph from (t, id).
func (r *Registry) PlanDelete(ctx context.Context, resolver Resolver, t EntityType, id string) (Plan, error) {
	var plan Plan
	visited := map[Ref]bool{}
	if err := r.walk(ctx, resolver, t, id, &plan, visited); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (r *Registry) walk(ctx context.Context, resolver Resolver, t EntityType, id string, plan *Plan, visited map[Ref]bool) error {
	for _, rel := range r.dependentRelationships(t) {
		refs, err := resolver.Related(ctx, t, id, rel.B)
		if err != nil {
			return errors.Wrapf(err, "resolve %s of %s %s", rel.B, t, id)
		}
		for _, ref := range refs {
			key := Ref{Type: ref.Type, ID: ref.ID}
			if visited[key] {
				continue
			}
			visited[key] = true

			if !rel.Cascade {
				plan.Blocking = append(plan.Blocking, ref)
				continue
			}
			if err := r.walk(ctx, resolver, ref.Type, ref.ID, plan, visited); err != nil {
				return err
			}
			plan.Cascade = append(plan.Cascade, ref)
		}
	}
	return nil
}
