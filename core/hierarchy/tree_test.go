package hierarchy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sPtr(s string) *string { return &s }

func node(id string, parentID ...string) Node {
	n := Node{ID: id, Name: "Node " + id, Type: TypeCustom}
	if len(parentID) > 0 {
		n.ParentID = sPtr(parentID[0])
	}
	return n
}

// shape renders the forest as nested ids, eg. [A[B C]].
func shape(forest []*TreeNode) string {
	var buf bytes.Buffer
	var write func(nodes []*TreeNode)
	write = func(nodes []*TreeNode) {
		buf.WriteString("[")
		for i, n := range nodes {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(n.ID)
			if len(n.Children) > 0 {
				write(n.Children)
			}
		}
		buf.WriteString("]")
	}
	write(forest)
	return buf.String()
}

func TestBuildForest(t *testing.T) {
	tests := []struct {
		name      string
		flat      []Node
		wantShape string
	}{
		{name: "siblings keep input order", flat: []Node{node("A"), node("B", "A"), node("C", "A")}, wantShape: "[A[B C]]"},
		{name: "child listed before parent", flat: []Node{node("B", "A"), node("A")}, wantShape: "[A[B]]"},
		{name: "dangling parent is a root", flat: []Node{node("X", "missing")}, wantShape: "[X]"},
		{name: "empty", flat: []Node{}, wantShape: "[]"},
		{name: "nil", flat: nil, wantShape: "[]"},
		{name: "three levels", flat: []Node{node("A"), node("B", "A"), node("C", "B")}, wantShape: "[A[B[C]]]"},
		{name: "empty parent id is a root", flat: []Node{node("A", ""), node("B", "A")}, wantShape: "[A[B]]"},
		{
			name:      "several roots",
			flat:      []Node{node("R1"), node("Z1", "R1"), node("R2"), node("Z2", "R2"), node("T1", "Z1"), node("Z3", "R1")},
			wantShape: "[R1[Z1[T1] Z3] R2[Z2]]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forest := BuildForest(tt.flat)
			require.NotNil(t, forest)
			assert.Equal(t, tt.wantShape, shape(forest))
			assert.Equal(t, len(tt.flat), Count(forest))
		})
	}
}

func TestBuildForest_childrenNeverNil(t *testing.T) {
	forest := BuildForest([]Node{node("A"), node("B", "A")})
	_ = Walk(forest, func(n *TreeNode, _ int) error {
		assert.NotNil(t, n.Children, n.ID)
		return nil
	})
}

func TestBuildForest_cycleTerminates(t *testing.T) {
	flat := []Node{node("R"), node("A", "B"), node("B", "A")}
	forest := BuildForest(flat)
	assert.Equal(t, "[R]", shape(forest))
	assert.Equal(t, 1, Count(forest))
}

func TestBuildForest_noMutation(t *testing.T) {
	flat := []Node{
		{ID: "A", Name: "HQ", Type: TypeRoot, Properties: map[string]interface{}{"city": "Kinshasa"}, ManagerID: sPtr("u1"), Manager: &Manager{ID: "u1", Name: "Boss"}},
		node("B", "A"),
	}
	before := []Node{copyNode(flat[0]), copyNode(flat[1])}

	forest := BuildForest(flat)
	require.Len(t, forest, 1)
	forest[0].Name = "changed"
	forest[0].Properties["city"] = "Goma"
	*forest[0].ManagerID = "u2"
	forest[0].Manager.Name = "Other"
	*forest[0].Children[0].ParentID = "Z"

	assert.Equal(t, before, flat)
}

func TestBuildForest_idempotent(t *testing.T) {
	flat := []Node{node("B", "A"), node("A"), node("C", "A"), node("D", "C"), node("E", "nope")}
	assert.Equal(t, BuildForest(flat), BuildForest(flat))
}

func TestBuildForest_placement(t *testing.T) {
	flat := []Node{node("A"), node("B", "A"), node("C", "B"), node("D", "ghost"), node("E", "A")}
	forest := BuildForest(flat)

	rootIDs := make([]string, 0, len(forest))
	for _, r := range forest {
		rootIDs = append(rootIDs, r.ID)
	}
	assert.Equal(t, []string{"A", "D"}, rootIDs)

	for _, n := range flat {
		if n.ParentID == nil || *n.ParentID == "ghost" {
			continue
		}
		parent, ok := Subtree(forest, *n.ParentID)
		require.True(t, ok, n.ID)
		var found bool
		for _, c := range parent.Children {
			found = found || c.ID == n.ID
		}
		assert.True(t, found, "%s not under %s", n.ID, *n.ParentID)
	}
}

func TestWalk_stopsOnError(t *testing.T) {
	forest := BuildForest([]Node{node("A"), node("B", "A"), node("C")})
	var visited []string
	err := Walk(forest, func(n *TreeNode, _ int) error {
		visited = append(visited, n.ID)
		if n.ID == "B" {
			return errStopWalk
		}
		return nil
	})
	assert.Equal(t, errStopWalk, err)
	assert.Equal(t, []string{"A", "B"}, visited)
}

func TestRender(t *testing.T) {
	flat := []Node{
		{ID: "1", Name: "HQ", Type: TypeRoot},
		{ID: "2", ParentID: sPtr("1"), Name: "North", Type: TypeRegion},
		{ID: "3", ParentID: sPtr("2"), Name: "Zone A", Type: TypeZone},
		{ID: "4", ParentID: sPtr("1"), Name: "South", Type: TypeRegion},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, BuildForest(flat)))
	assert.Equal(t, "HQ [root]\n  North [region]\n    Zone A [zone]\n  South [region]\n", buf.String())
}

func TestSubtreeAndIDs(t *testing.T) {
	forest := BuildForest([]Node{node("A"), node("B", "A"), node("C", "B"), node("D", "A"), node("E")})

	sub, ok := Subtree(forest, "B")
	require.True(t, ok)
	assert.Equal(t, []string{"B", "C"}, IDs(sub))

	sub, ok = Subtree(forest, "A")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C", "D"}, IDs(sub))

	_, ok = Subtree(forest, "nope")
	assert.False(t, ok)
}

func TestPath(t *testing.T) {
	flat := []Node{node("C", "B"), node("A"), node("B", "A"), node("X", "Y"), node("Y", "X")}

	ids := func(nodes []Node) []string {
		res := make([]string, 0, len(nodes))
		for _, n := range nodes {
			res = append(res, n.ID)
		}
		return res
	}
	assert.Equal(t, []string{"A", "B"}, ids(Path(flat, "C")))
	assert.Equal(t, []string{}, ids(Path(flat, "A")))
	assert.Equal(t, []string{}, ids(Path(flat, "unknown")))
	assert.Equal(t, []string{"Y"}, ids(Path(flat, "X")))
}

func TestSuggestChildType(t *testing.T) {
	tests := map[string]string{
		TypeRoot:   TypeRegion,
		TypeRegion: TypeZone,
		TypeZone:   TypeTeam,
		TypeTeam:   TypeCustom,
		"branch":   TypeCustom,
	}
	for parent, want := range tests {
		assert.Equal(t, want, SuggestChildType(parent), parent)
	}
}
