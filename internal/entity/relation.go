package entity

import "container/list"

// RelationSet is an insertion-ordered set of references into a canonical
// collection. It is parameterised by the backing collection and a function
// extracting each member's key.
//
// Membership is a lookup relation, never ownership: a member whose target is
// no longer present in the backing collection (or has been replaced there by
// a different instance) is stale. Values silently drops and forgets stale
// members, so iteration heals itself after an entity is destroyed elsewhere.
//
// RelationSet is not safe for concurrent use; the Store serialises access.
type RelationSet[K comparable, V comparable] struct {
	backing map[K]V
	key     func(V) K
	order   *list.List
	members map[K]*list.Element
}

// NewRelationSet creates an empty set over backing.
func NewRelationSet[K comparable, V comparable](backing map[K]V, key func(V) K) *RelationSet[K, V] {
	return &RelationSet[K, V]{
		backing: backing,
		key:     key,
		order:   list.New(),
		members: make(map[K]*list.Element),
	}
}

// Add inserts v. It returns false if v's key was already a member.
func (r *RelationSet[K, V]) Add(v V) bool {
	k := r.key(v)
	if el, ok := r.members[k]; ok {
		// same key, replaced instance: keep position, refresh the reference
		el.Value = v
		return false
	}
	r.members[k] = r.order.PushBack(v)
	return true
}

// Remove deletes v's key from the set. It returns false if it was absent.
func (r *RelationSet[K, V]) Remove(v V) bool {
	return r.RemoveKey(r.key(v))
}

// RemoveKey deletes k from the set. It returns false if it was absent.
func (r *RelationSet[K, V]) RemoveKey(k K) bool {
	el, ok := r.members[k]
	if !ok {
		return false
	}
	r.order.Remove(el)
	delete(r.members, k)
	return true
}

// Contains reports whether v (by key) is a member.
func (r *RelationSet[K, V]) Contains(v V) bool {
	return r.ContainsKey(r.key(v))
}

// ContainsKey reports whether k is a member.
func (r *RelationSet[K, V]) ContainsKey(k K) bool {
	_, ok := r.members[k]
	return ok
}

// Len is the number of members, stale ones included.
func (r *RelationSet[K, V]) Len() int {
	return len(r.members)
}

// Values returns the live members in insertion order, forgetting any member
// whose target no longer exists in the backing collection.
func (r *RelationSet[K, V]) Values() []V {
	out := make([]V, 0, len(r.members))
	for el := r.order.Front(); el != nil; {
		next := el.Next()
		v := el.Value.(V)
		k := r.key(v)
		if cur, ok := r.backing[k]; !ok || cur != v {
			r.order.Remove(el)
			delete(r.members, k)
		} else {
			out = append(out, v)
		}
		el = next
	}
	return out
}

// Keys returns member keys in insertion order without healing.
func (r *RelationSet[K, V]) Keys() []K {
	out := make([]K, 0, len(r.members))
	for el := r.order.Front(); el != nil; el = el.Next() {
		out = append(out, r.key(el.Value.(V)))
	}
	return out
}
