// Package coord implements the signed-direction path addressing scheme for
// the hexagonal hierarchy.
//
// A coordinate scopes a path of direction tokens to an owner and a group:
//
//	"42,7:1,3,-2"
//
// The empty path addresses the root of the owner/group tree. Each path token
// is a direction in [-6, 6]:
//
//   - 1..6   structural children (the six hexagonal neighbors)
//   - 0      the composition anchor of a cell
//   - -1..-6 composed children, reached through a composition anchor
//
// A coordinate containing any negative token anywhere in its path is
// "composed": it addresses content logically nested inside a cell rather
// than a structural descendant. Ownership and editability of composed
// coordinates follow the anchor that introduced them, not plain path-prefix
// containment; for ancestry tests a negative token is just another token.
//
// All operations are pure and allocation-shy; Coord values are safe to copy
// and compare with Equal.
package coord
