package coord

import (
	"strconv"
	"strings"
)

// Direction is one token of a coordinate path.
//
// Valid values are -6..6. Zero addresses the composition anchor of a cell,
// 1..6 its structural children, -1..-6 the composed children of its anchor.
type Direction int8

const (
	// DirAnchor is the composition anchor direction.
	DirAnchor Direction = 0

	// MinDirection and MaxDirection bound the valid direction domain.
	MinDirection Direction = -6
	MaxDirection Direction = 6
)

// Valid reports whether d is inside the direction domain.
func (d Direction) Valid() bool {
	return d >= MinDirection && d <= MaxDirection
}

// IsStructural reports whether d addresses a structural child (1..6).
func (d Direction) IsStructural() bool { return d >= 1 }

// IsComposed reports whether d addresses a composed child (-1..-6).
func (d Direction) IsComposed() bool { return d <= -1 }

// Coord addresses one node in the hierarchy: an owner/group scope plus a
// path of direction tokens. The zero-length path is the root of the scope.
type Coord struct {
	OwnerID uint64
	GroupID uint64
	Path    []Direction
}

// NewRoot returns the root coordinate of the given owner/group scope.
func NewRoot(ownerID, groupID uint64) Coord {
	return Coord{OwnerID: ownerID, GroupID: groupID}
}

// Parse decodes a canonical coordinate string.
//
// Grammar:
//
//	coord  = owner "," group [ ":" path ]
//	owner  = decimal uint64
//	group  = decimal uint64
//	path   = direction *( "," direction )
//
// where every direction is a signed integer in [-6, 6]. Anything else,
// including empty path tokens and legacy formats, yields a
// *MalformedCoordinateError.
func Parse(id string) (Coord, error) {
	scope := id
	pathPart := ""
	hasPath := false
	if i := strings.IndexByte(id, ':'); i >= 0 {
		scope = id[:i]
		pathPart = id[i+1:]
		hasPath = true
	}

	ownerStr, groupStr, ok := strings.Cut(scope, ",")
	if !ok {
		return Coord{}, &MalformedCoordinateError{Input: id, Reason: "missing owner,group separator"}
	}

	ownerID, err := strconv.ParseUint(ownerStr, 10, 64)
	if err != nil {
		return Coord{}, &MalformedCoordinateError{Input: id, Reason: "owner is not numeric", cause: err}
	}
	groupID, err := strconv.ParseUint(groupStr, 10, 64)
	if err != nil {
		return Coord{}, &MalformedCoordinateError{Input: id, Reason: "group is not numeric", cause: err}
	}

	c := Coord{OwnerID: ownerID, GroupID: groupID}
	if !hasPath {
		return c, nil
	}
	if pathPart == "" {
		return Coord{}, &MalformedCoordinateError{Input: id, Reason: "empty path after ':'"}
	}

	tokens := strings.Split(pathPart, ",")
	c.Path = make([]Direction, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.ParseInt(tok, 10, 8)
		if err != nil {
			return Coord{}, &MalformedCoordinateError{Input: id, Reason: "path token is not an integer", cause: err}
		}
		d := Direction(n)
		if !d.Valid() {
			return Coord{}, &MalformedCoordinateError{Input: id, Reason: "path token outside [-6,6]"}
		}
		c.Path = append(c.Path, d)
	}
	return c, nil
}

// MustParse is like Parse but panics on malformed input.
// Intended for tests and compile-time-constant coordinates.
func MustParse(id string) Coord {
	c, err := Parse(id)
	if err != nil {
		panic(err)
	}
	return c
}

// String encodes the coordinate in its canonical form. Parse(c.String())
// round-trips for every valid coordinate.
func (c Coord) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(c.OwnerID, 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatUint(c.GroupID, 10))
	for i, d := range c.Path {
		if i == 0 {
			sb.WriteByte(':')
		} else {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(int64(d), 10))
	}
	return sb.String()
}

// IsRoot reports whether c is the root of its scope (empty path).
func (c Coord) IsRoot() bool { return len(c.Path) == 0 }

// Depth returns the length of the path.
func (c Coord) Depth() int { return len(c.Path) }

// IsDegenerate reports whether the owner id is the zero placeholder.
// Degenerate coordinates appear transiently during session transitions
// and must never reach the network. Group zero is a valid default group.
func (c Coord) IsDegenerate() bool { return c.OwnerID == 0 }

// Parent returns the coordinate with the last path token removed.
// ok is false only for the root.
func (c Coord) Parent() (Coord, bool) {
	if c.IsRoot() {
		return Coord{}, false
	}
	p := Coord{OwnerID: c.OwnerID, GroupID: c.GroupID}
	if n := len(c.Path) - 1; n > 0 {
		p.Path = append([]Direction(nil), c.Path[:n]...)
	}
	return p, true
}

// Direction returns the last path token. ok is false only for the root.
func (c Coord) Direction() (Direction, bool) {
	if c.IsRoot() {
		return 0, false
	}
	return c.Path[len(c.Path)-1], true
}

// Child appends one direction token. ok is false when d is outside the
// direction domain.
func (c Coord) Child(d Direction) (Coord, bool) {
	if !d.Valid() {
		return Coord{}, false
	}
	child := Coord{OwnerID: c.OwnerID, GroupID: c.GroupID}
	child.Path = make([]Direction, len(c.Path)+1)
	copy(child.Path, c.Path)
	child.Path[len(c.Path)] = d
	return child, true
}

// CompositionAnchor returns the direction-0 child of c, the root of its
// composed sub-relation.
func (c Coord) CompositionAnchor() Coord {
	anchor, _ := c.Child(DirAnchor)
	return anchor
}

// ComposedChildren returns the six composed children of c, reached through
// its composition anchor at directions -1..-6.
func (c Coord) ComposedChildren() []Coord {
	anchor := c.CompositionAnchor()
	children := make([]Coord, 0, 6)
	for d := Direction(-1); d >= MinDirection; d-- {
		child, _ := anchor.Child(d)
		children = append(children, child)
	}
	return children
}

// IsComposed reports whether any path token is negative, i.e. the
// coordinate addresses logically nested content.
func (c Coord) IsComposed() bool {
	for _, d := range c.Path {
		if d.IsComposed() {
			return true
		}
	}
	return false
}

// IsAnchor reports whether c itself is a composition anchor (last token 0).
// Anchors are structural plumbing: never draggable, never selectable as
// structural children.
func (c Coord) IsAnchor() bool {
	d, ok := c.Direction()
	return ok && d == DirAnchor
}

// IsAncestorOf reports whether c is a strict ancestor of other. The test is
// a strict path-prefix check within the same owner/group scope; negative
// tokens count as ordinary tokens.
func (c Coord) IsAncestorOf(other Coord) bool {
	if c.OwnerID != other.OwnerID || c.GroupID != other.GroupID {
		return false
	}
	if len(c.Path) >= len(other.Path) {
		return false
	}
	for i, d := range c.Path {
		if other.Path[i] != d {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether c is a strict descendant of other.
func (c Coord) IsDescendantOf(other Coord) bool {
	return other.IsAncestorOf(c)
}

// Siblings returns the coordinates sharing c's parent, excluding c itself.
// For a composed coordinate the sibling domain is -1..-6; for a structural
// coordinate it is 1..6. The root and composition anchors have no siblings.
func (c Coord) Siblings() []Coord {
	d, ok := c.Direction()
	if !ok || d == DirAnchor {
		return nil
	}
	parent, _ := c.Parent()

	var lo, hi Direction
	if d.IsComposed() {
		lo, hi = MinDirection, -1
	} else {
		lo, hi = 1, MaxDirection
	}
	siblings := make([]Coord, 0, 5)
	for s := lo; s <= hi; s++ {
		if s == d {
			continue
		}
		sib, _ := parent.Child(s)
		siblings = append(siblings, sib)
	}
	return siblings
}

// Ancestors returns the ancestor chain from the root down to (and
// excluding) c, in depth order. The root yields nil.
func (c Coord) Ancestors() []Coord {
	if c.IsRoot() {
		return nil
	}
	chain := make([]Coord, 0, len(c.Path))
	for depth := 0; depth < len(c.Path); depth++ {
		a := Coord{OwnerID: c.OwnerID, GroupID: c.GroupID}
		if depth > 0 {
			a.Path = append([]Direction(nil), c.Path[:depth]...)
		}
		chain = append(chain, a)
	}
	return chain
}

// Equal reports whether two coordinates address the same node.
func (c Coord) Equal(other Coord) bool {
	if c.OwnerID != other.OwnerID || c.GroupID != other.GroupID || len(c.Path) != len(other.Path) {
		return false
	}
	for i, d := range c.Path {
		if other.Path[i] != d {
			return false
		}
	}
	return true
}
