package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// PathMemberKind discriminates PathMember.
type PathMemberKind uint8

const (
	// PathString navigates a record column by name.
	PathString PathMemberKind = iota
	// PathInt navigates a list element by index.
	PathInt
)

// PathMember is one step of a cell path. Optional members yield the absent
// value instead of failing when the step is missing; Insensitive string
// members match record columns case-insensitively.
type PathMember struct {
	Kind        PathMemberKind
	String      string
	Int         int
	Span        Span
	Optional    bool
	Insensitive bool
}

// StringMember builds a string path member.
func StringMember(name string, span Span) PathMember {
	return PathMember{Kind: PathString, String: name, Span: span}
}

// IntMember builds an integer path member.
func IntMember(index int, span Span) PathMember {
	return PathMember{Kind: PathInt, Int: index, Span: span}
}

func (m PathMember) render() string {
	var s string
	if m.Kind == PathInt {
		s = strconv.Itoa(m.Int)
	} else {
		s = m.String
	}
	if m.Optional {
		s += "?"
	}
	return s
}

// CellPath is a sequence of path members navigating nested records/lists.
type CellPath struct {
	Members []PathMember
}

// String renders the path in `$.a.0.b` form.
func (p CellPath) String() string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, m := range p.Members {
		fmt.Fprintf(&sb, ".%s", m.render())
	}
	return sb.String()
}
