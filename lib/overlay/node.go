// Package overlay builds the in-memory virtual overlay node-tree from a set
// of active modules and the live mirror, then materializes it as a sequence
// of bind-mounts. See BuildSystemTree in build.go and MagicMount in mount.go
// for the algorithm.
package overlay

import "fmt"

// NodeType mirrors the dirent type of the contributing module entry (or the
// mirror entry, for dummies).
type NodeType int

const (
	TypeDir NodeType = iota
	TypeReg
	TypeLnk
)

func (t NodeType) String() string {
	switch t {
	case TypeDir:
		return "dir"
	case TypeReg:
		return "reg"
	case TypeLnk:
		return "lnk"
	default:
		return "unknown"
	}
}

// Status is the mutually-exclusive tagged-variant replacement for the
// source's {DUMMY, INTER, SKEL, MODULE} bitset, ordered by precedence so
// that Upgrade can be a plain numeric max. Vendor is an orthogonal flag
// carried on Node rather than folded into this ordering (see Node.Vendor).
type Status int

const (
	// StatusDummy is a placeholder entry drawn from the mirror, valid
	// only as a child of a Skel directory.
	StatusDummy Status = iota
	// StatusInter is an intermediate directory: recurse into children,
	// no mount performed at this node.
	StatusInter
	// StatusSkel means this directory must be replaced by a synthesized
	// skeleton mixing mirror and module content.
	StatusSkel
	// StatusModule means this exact path is supplied by a module and is
	// bind-mounted as a whole subtree.
	StatusModule
)

func (s Status) String() string {
	switch s {
	case StatusDummy:
		return "dummy"
	case StatusInter:
		return "inter"
	case StatusSkel:
		return "skel"
	case StatusModule:
		return "module"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Node represents one path element in the virtual overlay tree. Unlike the
// source's struct node_entry, it carries no parent back-pointer: the
// absolute overlay path is threaded down through the traversal instead
// (spec.md §9, "Parent back-references" — adopted), which also means
// destroying a subtree is just letting it become unreachable.
type Node struct {
	Name   string
	Type   NodeType
	Status Status
	// Module is the module supplying this node; only meaningful when
	// Status == StatusModule.
	Module string
	// Vendor marks this node as the sentinel placeholder installed at
	// /system/vendor after the real vendor subtree is hoisted out. It is
	// orthogonal to Status (spec.md §9, "Status as a bitset" — adopted):
	// a vendor sentinel is never mounted regardless of its Status.
	Vendor bool

	order    []string
	children map[string]*Node
}

// NewNode allocates a node with no children.
func NewNode(name string, typ NodeType, status Status) *Node {
	return &Node{
		Name:     name,
		Type:     typ,
		Status:   status,
		children: make(map[string]*Node),
	}
}

// Children returns this node's children in insertion order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.children[name])
	}
	return out
}

// Child looks up an existing child by name.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// Upgrade raises n's status to target if target outranks the current
// status. This is the Go shape of the source's `status |= IS_SKEL`: a
// monotonic upgrade that never downgrades an existing StatusModule.
func (n *Node) Upgrade(target Status) {
	if target > n.Status {
		n.Status = target
	}
}

// Insert adds child under n, applying the MODULE > SKEL > INTER > DUMMY
// precedence rule on name collisions, and returns whichever node ends up
// occupying that slot — the caller must keep recursing into *that* node,
// not into child, since on a collision it may be the pre-existing one
// (mirrors the source's `node = insert_child(parent, node)` reassignment
// before the recursive construct_tree call, which is what lets a later
// module's contributions land inside an already-SKEL directory from an
// earlier module instead of being discarded with it).
//
// The source replaces only on a strictly-greater status (insert_child: "if
// c->status > e->status"), which means equal-status duplicates keep the
// existing entry — except the literal scenario in spec.md §8 scenario 2,
// where two StatusModule leaves from different modules collide: there
// enumeration order must still be decisive (the later module wins), so
// that one case is special-cased to replace on equality too (spec.md §9
// Open Question 1 — resolved this way for this repo; recorded in
// DESIGN.md).
func (n *Node) Insert(child *Node) *Node {
	existing, ok := n.children[child.Name]
	if !ok {
		n.children[child.Name] = child
		n.order = append(n.order, child.Name)
		return child
	}
	if child.Status > existing.Status {
		n.children[child.Name] = child
		return child
	}
	if child.Status == StatusModule && existing.Status == StatusModule {
		n.children[child.Name] = child
		return child
	}
	// Existing entry outranks or ties the new one under first-writer-wins;
	// the new subtree is simply dropped (nothing to free explicitly in Go).
	return existing
}
