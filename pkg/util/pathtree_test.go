package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/pkg/util"
)

func TestPathTreeRemovePrunes(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"a", "b", "c"}, 1)
	tree.Insert([]string{"a", "d"}, 2)

	tree.Remove([]string{"a", "b", "c"})

	vals := tree.Detach([]string{"a", "b"})
	assert.Nil(t, vals)

	vals = tree.Detach([]string{"a"})
	assert.Equal(t, []int{2}, vals)
}

func TestPathTreeDetachPrunesPrefix(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"plan", "p1", "s1"}, 1)
	tree.Insert([]string{"plan", "p1", "s2"}, 2)
	tree.Insert([]string{"plan", "p2", "s1"}, 3)

	vals := tree.Detach([]string{"plan", "p1"})
	assert.ElementsMatch(t, []int{1, 2}, vals)

	vals = tree.Detach([]string{"plan", "p1"})
	assert.Nil(t, vals)

	vals = tree.Detach([]string{"plan"})
	assert.Equal(t, []int{3}, vals)

	vals = tree.Detach([]string{"plan"})
	assert.Nil(t, vals)
}

func TestPathTreeExactOverwriteAndRemove(t *testing.T) {
	tree := util.NewPathTree[string]()
	tree.Insert([]string{"x"}, "one")
	tree.Insert([]string{"x"}, "two")

	vals := tree.Detach([]string{"x"})
	assert.Equal(t, []string{"two"}, vals)

	tree.Insert([]string{"x", "y"}, "z")
	tree.Remove([]string{"x", "y"})
	vals = tree.Detach([]string{"x"})
	assert.Nil(t, vals)
}

func TestPathTreeDetachWithVisitsSubtree(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"p1", "n1", "timeout"}, 1)
	tree.Insert([]string{"p1", "n1", "retry"}, 2)
	tree.Insert([]string{"p1", "n2", "timeout"}, 3)

	var seen []int
	tree.DetachWith([]string{"p1", "n1"}, func(v int) {
		seen = append(seen, v)
	})
	assert.ElementsMatch(t, []int{1, 2}, seen)

	_, ok := tree.Get([]string{"p1", "n1", "retry"})
	assert.False(t, ok)

	v, ok := tree.Get([]string{"p1", "n2", "timeout"})
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestPathTreeDetachKeepsParentValue(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"p1"}, 1)
	tree.Insert([]string{"p1", "n1"}, 2)
	tree.Insert([]string{"p2"}, 3)
	assert.Equal(t, 3, tree.Len())

	assert.Equal(t, []int{2}, tree.Detach([]string{"p1", "n1"}))
	v, ok := tree.Get([]string{"p1"})
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.ElementsMatch(t, []int{1, 3}, tree.Detach(nil))
	assert.Equal(t, 0, tree.Len())
}
