package vector

import (
	"errors"
	"sort"
)

// ErrInvalidToken is returned when a token yields no vector.
var ErrInvalidToken = errors.New("invalid token: empty")

// NoOffset marks a node whose postings have never been persisted.
const NoOffset int64 = -1

// Posting is one document's occurrence count within a node.
type Posting struct {
	DocumentID uint64
	Count      uint32
}

// Node is one token in a similarity tree. A root is a node without a token.
// Published trees are read-only; writers mutate private clones.
type Node struct {
	token    string
	vector   Vector
	postings map[uint64]uint32
	offset   int64
	dirty    bool
	left     *Node
	right    *Node
}

// NewRoot returns an empty tree root.
func NewRoot() *Node {
	return &Node{postings: map[uint64]uint32{}, offset: NoOffset}
}

// NewNode returns a leaf for token with a single occurrence in docID.
func NewNode(token string, docID uint64) *Node {
	return &Node{
		token:    token,
		vector:   FromToken(token),
		postings: map[uint64]uint32{docID: 1},
		offset:   NoOffset,
		dirty:    true,
	}
}

// Accessors. A root node has an empty token and holds no postings.
func (n *Node) Token() string { return n.token }
func (n *Node) Vector() Vector { return n.vector }
func (n *Node) Left() *Node { return n.left }
func (n *Node) Right() *Node { return n.right }
func (n *Node) IsRoot() bool { return n.token == "" }
func (n *Node) Dirty() bool { return n.dirty }
func (n *Node) Offset() int64 { return n.offset }
func (n *Node) DocumentCount() int { return len(n.postings) }

// Postings returns the node's postings ordered by document id.
func (n *Node) Postings() []Posting {
	out := make([]Posting, 0, len(n.postings))
	for id, c := range n.postings {
		out = append(out, Posting{DocumentID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// PostingMap returns a copy of the node's postings.
func (n *Node) PostingMap() map[uint64]uint32 {
	out := make(map[uint64]uint32, len(n.postings))
	for id, c := range n.postings {
		out[id] = c
	}
	return out
}

// MarkPersisted records where the node's postings were stored and clears
// the dirty flag.
func (n *Node) MarkPersisted(offset int64) {
	n.offset = offset
	n.dirty = false
}

// Add inserts node into the tree rooted at n. A node similar enough to an
// existing one is merged into it; otherwise it becomes a new leaf.
func (n *Node) Add(node *Node) error {
	if node == nil || node.token == "" || len(node.vector) == 0 {
		return ErrInvalidToken
	}
	cursor := n
	for {
		sim := Similarity(node.vector, cursor.vector)
		if sim >= IdenticalAngle {
			cursor.merge(node)
			return nil
		}
		if sim > FoldAngle {
			if cursor.left == nil {
				cursor.left = node
				return nil
			}
			cursor = cursor.left
		} else {
			if cursor.right == nil {
				cursor.right = node
				return nil
			}
			cursor = cursor.right
		}
	}
}

// merge keeps the receiver's vector and adds node's occurrence counts.
func (n *Node) merge(node *Node) {
	for id, c := range node.postings {
		n.postings[id] += c
	}
	n.dirty = true
}

// Find follows the insertion path for token and returns the node it would
// merge into, with its similarity. It returns nil when token would become a
// new leaf.
func (n *Node) Find(token string) (*Node, float64) {
	target := FromToken(token)
	if len(target) == 0 {
		return nil, 0
	}
	for cursor := n; cursor != nil; {
		sim := Similarity(target, cursor.vector)
		if sim >= IdenticalAngle {
			return cursor, sim
		}
		if sim > FoldAngle {
			cursor = cursor.left
		} else {
			cursor = cursor.right
		}
	}
	return nil, 0
}

// Match is a node found by a fuzzy lookup.
type Match struct {
	Node       *Node
	Similarity float64
}

// Near returns every token node on the insertion path for token whose
// similarity is at least threshold, best first. The walk ends at the first
// node token would merge into.
func (n *Node) Near(token string, threshold float64) []Match {
	target := FromToken(token)
	if len(target) == 0 {
		return nil
	}
	var matches []Match
	for cursor := n; cursor != nil; {
		sim := Similarity(target, cursor.vector)
		if !cursor.IsRoot() && sim >= threshold {
			matches = append(matches, Match{Node: cursor, Similarity: sim})
		}
		if sim >= IdenticalAngle {
			break
		}
		if sim > FoldAngle {
			cursor = cursor.left
		} else {
			cursor = cursor.right
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches
}

// Clone deep-copies the tree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		token:    n.token,
		vector:   n.vector,
		postings: n.PostingMap(),
		offset:   n.offset,
		dirty:    n.dirty,
	}
	c.left = n.left.Clone()
	c.right = n.right.Clone()
	return c
}

// Walk visits nodes in preorder until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	return n.left.Walk(fn) && n.right.Walk(fn)
}

// Count returns the number of nodes, root included.
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// Depth counts the nodes on the longest path below n, n included.
func (n *Node) Depth() int {
	if n == nil {
		return 0
	}
	return 1 + max(n.left.Depth(), n.right.Depth())
}
