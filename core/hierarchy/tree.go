package hierarchy

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

var errStopWalk = errors.New("stop walk")

// BuildForest turns a flat list of nodes into an ordered forest.
// A node whose parent is absent from `flat` is a root. Siblings keep their order in `flat`.
// `flat` is left untouched: the forest is made of copies.
// Parent cycles are not detected; their members are unreachable from the returned roots.
func BuildForest(flat []Node) []*TreeNode {
	byID := make(map[string]*TreeNode, len(flat))
	for _, n := range flat {
		byID[n.ID] = &TreeNode{Node: copyNode(n), Children: make([]*TreeNode, 0)}
	}

	roots := make([]*TreeNode, 0)
	for _, n := range flat {
		tn := byID[n.ID]
		if !n.IsRoot() {
			if parent, ok := byID[*n.ParentID]; ok {
				parent.Children = append(parent.Children, tn)
				continue
			}
		}
		roots = append(roots, tn)
	}
	return roots
}

func copyNode(n Node) Node {
	cp := n
	if n.ParentID != nil {
		pid := *n.ParentID
		cp.ParentID = &pid
	}
	if n.ManagerID != nil {
		mid := *n.ManagerID
		cp.ManagerID = &mid
	}
	if n.Manager != nil {
		mgr := *n.Manager
		cp.Manager = &mgr
	}
	if n.Properties != nil {
		cp.Properties = make(map[string]interface{}, len(n.Properties))
		for k, v := range n.Properties {
			cp.Properties[k] = v
		}
	}
	return cp
}

// Walk calls fn on every node reachable from the roots, parents before children.
// It stops on the first error returned by fn.
func Walk(forest []*TreeNode, fn func(node *TreeNode, depth int) error) error {
	var walk func(nodes []*TreeNode, depth int) error
	walk = func(nodes []*TreeNode, depth int) error {
		for _, n := range nodes {
			if err := fn(n, depth); err != nil {
				return err
			}
			if err := walk(n.Children, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(forest, 0)
}

// Count returns the number of nodes reachable from the roots.
func Count(forest []*TreeNode) int {
	var count int
	_ = Walk(forest, func(*TreeNode, int) error {
		count++
		return nil
	})
	return count
}

// Render writes one `name [type]` line per node, indented by two spaces per level.
func Render(w io.Writer, forest []*TreeNode) error {
	return Walk(forest, func(n *TreeNode, depth int) error {
		_, err := fmt.Fprintf(w, "%s%s [%s]\n", strings.Repeat("  ", depth), n.Name, n.Type)
		return err
	})
}

// Subtree returns the node with `id` if it is reachable from the roots.
func Subtree(forest []*TreeNode, id string) (*TreeNode, bool) {
	var found *TreeNode
	_ = Walk(forest, func(n *TreeNode, _ int) error {
		if n.ID == id {
			found = n
			return errStopWalk
		}
		return nil
	})
	return found, found != nil
}

// IDs lists the ids of `node` and all its descendants, `node` first.
func IDs(node *TreeNode) []string {
	ids := make([]string, 0)
	_ = Walk([]*TreeNode{node}, func(n *TreeNode, _ int) error {
		ids = append(ids, n.ID)
		return nil
	})
	return ids
}

// Path returns the ancestors of the node with `id`, root first.
// The walk up the parent chain stops at a missing parent or a cycle.
func Path(flat []Node, id string) []Node {
	byID := make(map[string]Node, len(flat))
	for _, n := range flat {
		byID[n.ID] = n
	}

	path := make([]Node, 0)
	cur, ok := byID[id]
	if !ok {
		return path
	}
	seen := map[string]bool{id: true}
	for !cur.IsRoot() {
		parent, ok := byID[*cur.ParentID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		path = append(path, parent)
		cur = parent
	}

	// root first
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
