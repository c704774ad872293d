package streaming

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// stack is the chain of open elements. Nodes are linked into a skeleton
// document so selectors can inspect ancestors and preceding siblings; the
// children of closed elements are dropped to keep the skeleton shallow.
type stack struct {
	doc  *html.Node
	open []*html.Node
}

func newStack() *stack {
	return &stack{doc: &html.Node{Type: html.DocumentNode}}
}

func (s *stack) top() *html.Node {
	if len(s.open) == 0 {
		return s.doc
	}
	return s.open[len(s.open)-1]
}

// insert links an element under the current node. Void elements are not
// pushed.
func (s *stack) insert(t html.Token, void bool) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     t.Data,
		DataAtom: t.DataAtom,
		Attr:     t.Attr,
	}
	s.top().AppendChild(n)
	if !void {
		s.open = append(s.open, n)
	}
	return n
}

// popTo closes the element at index i and everything opened after it.
func (s *stack) popTo(i int) {
	for j := len(s.open) - 1; j >= i; j-- {
		n := s.open[j]
		n.FirstChild, n.LastChild = nil, nil
		s.open[j] = nil
	}
	s.open = s.open[:i]
}

// lookup finds the innermost open element named name, giving up at any
// element in boundary.
func (s *stack) lookup(names []atom.Atom, boundary map[atom.Atom]bool) int {
	for i := len(s.open) - 1; i >= 0; i-- {
		a := s.open[i].DataAtom
		for _, n := range names {
			if a == n {
				return i
			}
		}
		if boundary[a] {
			return -1
		}
	}
	return -1
}

func (s *stack) lookupName(name string) int {
	for i := len(s.open) - 1; i >= 0; i-- {
		if s.open[i].Data == name {
			return i
		}
	}
	return -1
}

// impliedEnd returns the index of an open element that a start tag named a
// closes implicitly, or -1.
func (s *stack) impliedEnd(a atom.Atom) int {
	switch {
	case a == atom.Li:
		return s.lookup([]atom.Atom{atom.Li}, listScope)
	case a == atom.Dt || a == atom.Dd:
		return s.lookup([]atom.Atom{atom.Dt, atom.Dd}, definitionScope)
	case a == atom.Tr:
		return s.lookup([]atom.Atom{atom.Tr}, tableScope)
	case a == atom.Td || a == atom.Th:
		return s.lookup([]atom.Atom{atom.Td, atom.Th}, rowScope)
	case a == atom.Thead || a == atom.Tbody || a == atom.Tfoot:
		return s.lookup([]atom.Atom{atom.Thead, atom.Tbody, atom.Tfoot}, tableScope)
	case a == atom.Option:
		if len(s.open) > 0 && s.top().DataAtom == atom.Option {
			return len(s.open) - 1
		}
	case closesParagraph[a]:
		return s.lookup([]atom.Atom{atom.P}, defaultScope)
	}
	return -1
}

var defaultScope = map[atom.Atom]bool{
	atom.Applet:   true,
	atom.Button:   true,
	atom.Caption:  true,
	atom.Html:     true,
	atom.Marquee:  true,
	atom.Object:   true,
	atom.Table:    true,
	atom.Td:       true,
	atom.Template: true,
	atom.Th:       true,
}

var listScope = with(defaultScope, atom.Ol, atom.Ul)

var definitionScope = with(defaultScope, atom.Dl)

var tableScope = map[atom.Atom]bool{
	atom.Html:     true,
	atom.Table:    true,
	atom.Template: true,
}

var rowScope = with(tableScope, atom.Tr)

var closesParagraph = map[atom.Atom]bool{
	atom.Address:    true,
	atom.Article:    true,
	atom.Aside:      true,
	atom.Blockquote: true,
	atom.Details:    true,
	atom.Div:        true,
	atom.Dl:         true,
	atom.Fieldset:   true,
	atom.Figcaption: true,
	atom.Figure:     true,
	atom.Footer:     true,
	atom.Form:       true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Header:     true,
	atom.Hr:         true,
	atom.Main:       true,
	atom.Nav:        true,
	atom.Ol:         true,
	atom.P:          true,
	atom.Pre:        true,
	atom.Section:    true,
	atom.Table:      true,
	atom.Ul:         true,
}

var voidElements = map[atom.Atom]bool{
	atom.Area:   true,
	atom.Base:   true,
	atom.Br:     true,
	atom.Col:    true,
	atom.Embed:  true,
	atom.Hr:     true,
	atom.Img:    true,
	atom.Input:  true,
	atom.Keygen: true,
	atom.Link:   true,
	atom.Meta:   true,
	atom.Param:  true,
	atom.Source: true,
	atom.Track:  true,
	atom.Wbr:    true,
}

func with(base map[atom.Atom]bool, extra ...atom.Atom) map[atom.Atom]bool {
	m := make(map[atom.Atom]bool, len(base)+len(extra))
	for k, v := range base {
		m[k] = v
	}
	for _, a := range extra {
		m[a] = true
	}
	return m
}
