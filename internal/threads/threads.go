// Package threads rebuilds reply trees from a flat list of comments.
package threads

import "time"

type Comment struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentId,omitempty"`
	AuthorName string     `json:"authorName"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
	Resolved   bool       `json:"resolved,omitempty"`
	Replies    []*Comment `json:"replies"`
}

// OrphanPolicy decides what happens to a reply whose parent is not in the
// input.
type OrphanPolicy int

const (
	// DropOrphans leaves orphaned replies out of the forest.
	DropOrphans OrphanPolicy = iota
	// PromoteOrphans shows orphaned replies as roots.
	PromoteOrphans
)

// Organize returns the root comments with their replies nested. Siblings keep
// their input order. Replies to comments missing from the input are dropped.
func Organize(comments []Comment) []*Comment {
	return OrganizeWith(comments, DropOrphans)
}

// OrganizeWith is Organize with an explicit orphan policy. The input is not
// modified; every returned node is a copy.
func OrganizeWith(comments []Comment, policy OrphanPolicy) []*Comment {
	byID := make(map[string]*Comment, len(comments))
	nodes := make([]*Comment, len(comments))
	for i := range comments {
		node := comments[i]
		node.Replies = []*Comment{}
		nodes[i] = &node
		// First occurrence wins when ids repeat.
		if _, ok := byID[node.ID]; !ok {
			byID[node.ID] = &node
		}
	}

	roots := make([]*Comment, 0)
	for _, node := range nodes {
		if node.ParentID == "" {
			roots = append(roots, node)
			continue
		}
		parent, ok := byID[node.ParentID]
		if ok && parent != node {
			parent.Replies = append(parent.Replies, node)
			continue
		}
		if policy == PromoteOrphans {
			roots = append(roots, node)
		}
	}
	return roots
}

// Count returns the number of comments in the forest, replies included.
func Count(roots []*Comment) int {
	total := 0
	walk(roots, func(*Comment) { total++ })
	return total
}

// OpenCount returns the number of unresolved root comments.
func OpenCount(roots []*Comment) int {
	open := 0
	for _, root := range roots {
		if !root.Resolved {
			open++
		}
	}
	return open
}

func walk(nodes []*Comment, visit func(*Comment)) {
	for _, node := range nodes {
		visit(node)
		walk(node.Replies, visit)
	}
}
