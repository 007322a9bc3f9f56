// Package reader wraps the standard library's debug/dwarf.Reader with the
// cursor/seek conveniences pkg/symbols needs to walk DIE trees: seeking to
// an entry's type, skipping into children vs siblings, and finding a
// named child of a DIE (a struct member, a nested scope variable).
//
// Adapted from go-delve/delve's pkg/dwarf/reader, which wraps the exact
// same stdlib type for the exact same reason.
package reader

import (
	"debug/dwarf"
	"errors"
	"fmt"
)

// Reader wraps dwarf.Reader. Its depth field is reset by Seek and is not
// otherwise maintained; SkipChildren counts nesting on its own.
type Reader struct {
	*dwarf.Reader
	depth int
}

// New wraps data's DIE reader.
func New(data *dwarf.Data) *Reader {
	return &Reader{data.Reader(), 0}
}

// Seek moves to an arbitrary offset, resetting the depth counter.
func (r *Reader) Seek(off dwarf.Offset) {
	r.depth = 0
	r.Reader.Seek(off)
}

// SeekToEntry positions the reader so that a following Next() call
// re-reads entry's first child (if any).
func (r *Reader) SeekToEntry(entry *dwarf.Entry) error {
	r.Seek(entry.Offset)
	_, err := r.Next()
	return err
}

var ErrTypeNotFound = errors.New("reader: no type attribute on entry")

// SeekToType follows entry's DW_AT_type, optionally stopping early at a
// typedef or pointer rather than resolving all the way to the underlying
// type.
func (r *Reader) SeekToType(entry *dwarf.Entry, resolveTypedefs, resolvePointers bool) (*dwarf.Entry, error) {
	off, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return nil, ErrTypeNotFound
	}
	r.Seek(off)
	for {
		te, err := r.Next()
		if err != nil {
			return nil, err
		}
		if te == nil {
			return nil, fmt.Errorf("reader: type chain ended without a base type")
		}
		if te.Tag == dwarf.TagTypedef && !resolveTypedefs {
			return te, nil
		}
		if te.Tag == dwarf.TagPointerType && !resolvePointers {
			return te, nil
		}
		next, ok := te.Val(dwarf.AttrType).(dwarf.Offset)
		if !ok {
			return te, nil
		}
		r.Seek(next)
	}
}

// NextMemberVariable advances to the next DW_TAG_member sibling within
// the entry the reader was last seeked into, returning nil at the end of
// the subtree.
func (r *Reader) NextMemberVariable() (*dwarf.Entry, error) {
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}
		if entry.Tag == 0 {
			return nil, nil
		}
		if entry.Children {
			if err := r.SkipChildren(); err != nil {
				return nil, err
			}
		}
		if entry.Tag == dwarf.TagMember {
			return entry, nil
		}
	}
}

// SkipChildren advances past the subtree of an entry that was just
// returned with its Children flag set. Callers must only call this
// immediately after such an entry.
func (r *Reader) SkipChildren() error {
	depth := 1
	for depth > 0 {
		e, err := r.Next()
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		if e.Children {
			depth++
		}
		if e.Tag == 0 {
			depth--
		}
	}
	return nil
}
