package session

// TreeNode is one row of the rendered session tree: the session plus its
// indentation depth.
type TreeNode struct {
	Session Session
	Depth   int
}

// BuildTree derives the render order for a flat session list with parent-key
// pointers. A session is a root if it has no parent or its parent is absent
// from the given (possibly filtered) set; roots keep list order, each
// immediately followed by a depth-first traversal of its children. The
// derivation works on an arena plus a children-by-parent index, never on live
// parent/child references, so a dangling parent degrades to root-level
// rendering and a pathological parent cycle cannot hang the walk.
func BuildTree(sessions []Session) []TreeNode {
	present := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		present[s.Key] = true
	}

	children := map[string][]Session{}
	var roots []Session
	for _, s := range sessions {
		if s.ParentSessionKey == "" || !present[s.ParentSessionKey] {
			roots = append(roots, s)
			continue
		}
		children[s.ParentSessionKey] = append(children[s.ParentSessionKey], s)
	}

	out := make([]TreeNode, 0, len(sessions))
	visited := make(map[string]bool, len(sessions))
	var walk func(s Session, depth int)
	walk = func(s Session, depth int) {
		if visited[s.Key] {
			return
		}
		visited[s.Key] = true
		out = append(out, TreeNode{Session: s, Depth: depth})
		for _, child := range children[s.Key] {
			walk(child, depth+1)
		}
	}
	for _, root := range roots {
		walk(root, 0)
	}
	// Members of a parent cycle are reachable from no root; surface them at
	// the top level rather than dropping them.
	for _, s := range sessions {
		if !visited[s.Key] {
			walk(s, 0)
		}
	}
	return out
}
