package util

type (
	// PathTree indexes values by hierarchical string paths, such as
	// plan/node/purpose, so that entire subtrees can be dropped at once
	PathTree[T any] struct {
		root branch[T]
	}

	branch[T any] struct {
		leaf *T
		kids map[string]*branch[T]
	}
)

// NewPathTree creates a new hierarchical path index
func NewPathTree[T any]() *PathTree[T] {
	return &PathTree[T]{}
}

// Insert stores a value at the exact path, replacing any existing value
func (t *PathTree[T]) Insert(path []string, v T) {
	b := &t.root
	for _, seg := range path {
		if b.kids == nil {
			b.kids = map[string]*branch[T]{}
		}
		next := b.kids[seg]
		if next == nil {
			next = &branch[T]{}
			b.kids[seg] = next
		}
		b = next
	}
	b.leaf = &v
}

// Get returns the value stored at the exact path
func (t *PathTree[T]) Get(path []string) (T, bool) {
	if b := t.find(path); b != nil && b.leaf != nil {
		return *b.leaf, true
	}
	var zero T
	return zero, false
}

// Len returns the number of stored values
func (t *PathTree[T]) Len() int {
	n := 0
	t.root.visit(func(T) { n++ })
	return n
}

// Remove clears the value at the exact path and prunes empty branches
func (t *PathTree[T]) Remove(path []string) {
	t.root.prune(path, true)
}

// Detach removes a prefix subtree and returns its values
func (t *PathTree[T]) Detach(prefix []string) []T {
	var res []T
	t.DetachWith(prefix, func(v T) {
		res = append(res, v)
	})
	return res
}

// DetachWith removes a prefix subtree, calling fn for each detached value.
// An empty prefix detaches the whole tree
func (t *PathTree[T]) DetachWith(prefix []string, fn func(T)) {
	if len(prefix) == 0 {
		old := t.root
		t.root = branch[T]{}
		old.visit(fn)
		return
	}
	parent := t.find(prefix[:len(prefix)-1])
	if parent == nil {
		return
	}
	last := prefix[len(prefix)-1]
	sub, ok := parent.kids[last]
	if !ok {
		return
	}
	delete(parent.kids, last)
	t.root.prune(prefix[:len(prefix)-1], false)
	sub.visit(fn)
}

func (t *PathTree[T]) find(path []string) *branch[T] {
	b := &t.root
	for _, seg := range path {
		if b = b.kids[seg]; b == nil {
			return nil
		}
	}
	return b
}

// prune optionally clears the value at path, then drops every branch on
// the way back up that holds neither a value nor children. It reports
// whether the receiver itself is now empty
func (b *branch[T]) prune(path []string, drop bool) bool {
	if len(path) == 0 {
		if drop {
			b.leaf = nil
		}
	} else if next, ok := b.kids[path[0]]; ok {
		if next.prune(path[1:], drop) {
			delete(b.kids, path[0])
		}
	}
	return b.leaf == nil && len(b.kids) == 0
}

func (b *branch[T]) visit(fn func(T)) {
	if b.leaf != nil {
		fn(*b.leaf)
	}
	for _, k := range b.kids {
		k.visit(fn)
	}
}
