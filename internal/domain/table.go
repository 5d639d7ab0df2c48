package domain

import (
	"strings"

	"github.com/benbjohnson/immutable"
)

type stringComparer struct{}

func (stringComparer) Compare(a, b string) int {
	return strings.Compare(a, b)
}

// Table is a persistent id → entity map ordered by id. The zero value is
// not usable; tables are created by Empty.
type Table[T any] struct {
	m *immutable.SortedMap[string, T]
}

func newTable[T any]() Table[T] {
	return Table[T]{m: immutable.NewSortedMap[string, T](stringComparer{})}
}

// Get returns the entity stored under id.
func (t Table[T]) Get(id string) (T, bool) {
	return t.m.Get(id)
}

// Has reports whether id is present.
func (t Table[T]) Has(id string) bool {
	_, ok := t.m.Get(id)
	return ok
}

// Len returns the number of entities.
func (t Table[T]) Len() int {
	return t.m.Len()
}

// All returns the entities ordered by id.
func (t Table[T]) All() []T {
	out := make([]T, 0, t.m.Len())
	itr := t.m.Iterator()
	for !itr.Done() {
		_, v, _ := itr.Next()
		out = append(out, v)
	}
	return out
}

func (t Table[T]) put(id string, v T) Table[T] {
	return Table[T]{m: t.m.Set(id, v)}
}

func (t Table[T]) remove(id string) Table[T] {
	return Table[T]{m: t.m.Delete(id)}
}

// index is a persistent one-to-many set: owner → members. Keys are
// owner + 0x00 + member, so all members of an owner are contiguous and can
// be found with a single seek.
type index struct {
	m *immutable.SortedMap[string, struct{}]
}

func newIndex() index {
	return index{m: immutable.NewSortedMap[string, struct{}](stringComparer{})}
}

func indexKey(owner, member string) string {
	return owner + "\x00" + member
}

func (ix index) add(owner, member string) index {
	return index{m: ix.m.Set(indexKey(owner, member), struct{}{})}
}

func (ix index) remove(owner, member string) index {
	return index{m: ix.m.Delete(indexKey(owner, member))}
}

// members returns the members of owner in ascending order.
func (ix index) members(owner string) []string {
	prefix := owner + "\x00"
	var out []string
	itr := ix.m.Iterator()
	itr.Seek(prefix)
	for !itr.Done() {
		k, _, _ := itr.Next()
		if !strings.HasPrefix(k, prefix) {
			break
		}
		out = append(out, k[len(prefix):])
	}
	return out
}

func (ix index) any(owner string) bool {
	prefix := owner + "\x00"
	itr := ix.m.Iterator()
	itr.Seek(prefix)
	if itr.Done() {
		return false
	}
	k, _, _ := itr.Next()
	return strings.HasPrefix(k, prefix)
}

func entityRef(t EntityType, id string) string {
	return string(t) + ":" + id
}

// Each calls fn for every entry in id order until fn returns false.
func (t Table[T]) Each(fn func(id string, v T) bool) {
	itr := t.m.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		if !fn(k, v) {
			return
		}
	}
}
