package document

import "sort"

// BuildTree reconstructs the page hierarchy from flat parentId-tagged
// records. A ParentID that does not resolve to a known page (possible
// transiently during concurrent delete/move) is treated as root. Siblings
// are ordered by Order, ties broken by ID so every replica renders the same
// tree.
func BuildTree(pages []PageNode) []*TreePage {
	byID := make(map[string]*TreePage, len(pages))
	for _, p := range pages {
		byID[p.ID] = &TreePage{PageNode: p}
	}

	var roots []*TreePage
	for _, p := range pages {
		node := byID[p.ID]
		parentID := effectiveParent(p, byID)
		if parentID == "" {
			roots = append(roots, node)
			continue
		}
		byID[parentID].Children = append(byID[parentID].Children, node)
	}

	var sortLevel func(nodes []*TreePage)
	sortLevel = func(nodes []*TreePage) {
		sort.Slice(nodes, func(i, j int) bool {
			if nodes[i].Order != nodes[j].Order {
				return nodes[i].Order < nodes[j].Order
			}
			return nodes[i].ID < nodes[j].ID
		})
		for _, n := range nodes {
			sortLevel(n.Children)
		}
	}
	sortLevel(roots)
	return roots
}

// effectiveParent resolves where a page attaches. Dangling parents become
// root. Concurrent reparenting can transiently create a parent cycle; the
// cycle member with the smallest id is promoted to root, which breaks the
// cycle identically on every replica while keeping the rest of the chain
// intact.
func effectiveParent(p PageNode, byID map[string]*TreePage) string {
	if p.ParentID == "" || p.ParentID == p.ID {
		return ""
	}
	if _, ok := byID[p.ParentID]; !ok {
		return ""
	}
	seen := map[string]bool{p.ID: true}
	cur := p.ParentID
	for cur != "" {
		if cur == p.ID {
			// The walk came back around: seen is exactly the cycle.
			min := p.ID
			for id := range seen {
				if id < min {
					min = id
				}
			}
			if p.ID == min {
				return ""
			}
			return p.ParentID
		}
		if seen[cur] {
			// p leads into a cycle it is not part of; that cycle is broken
			// when its own members resolve.
			return p.ParentID
		}
		seen[cur] = true
		parent, ok := byID[cur]
		if !ok {
			break
		}
		cur = parent.ParentID
	}
	return p.ParentID
}

// FlattenTree converts a page hierarchy back to flat parentId-tagged
// records, depth first, renumbering sibling order to match tree position.
func FlattenTree(roots []*TreePage) []PageNode {
	var out []PageNode
	var walk func(nodes []*TreePage, parentID string)
	walk = func(nodes []*TreePage, parentID string) {
		for i, n := range nodes {
			p := n.PageNode
			p.ParentID = parentID
			p.Order = i
			out = append(out, p)
			walk(n.Children, n.ID)
		}
	}
	walk(roots, "")
	return out
}
