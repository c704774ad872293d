package heuristics

import (
	"context"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dlclark/regexp2"
	"github.com/sunbk201/speedreader/internal/engine"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	reUnlikelyCandidates = regexp2.MustCompile(`-ad-|ai2html|banner|breadcrumbs|combx|comment|community|cover-wrap|disqus|extra|footer|gdpr|header|legends|menu|related|remark|replies|rss|shoutbox|sidebar|skyscraper|social|sponsor|supplemental|ad-break|agegate|pagination|pager|popup|yom-remote`, regexp2.IgnoreCase)
	reMaybeCandidate     = regexp2.MustCompile(`and|article|body|column|content|main|shadow`, regexp2.IgnoreCase)
	rePositive           = regexp2.MustCompile(`article|body|content|entry|hentry|h-entry|main|page|pagination|post|text|blog|story`, regexp2.IgnoreCase)
	reNegative           = regexp2.MustCompile(`-ad-|hidden|^hid$| hid$| hid |^hid |banner|combx|comment|com-|contact|foot|footer|footnote|gdpr|masthead|media|meta|outbrain|promo|related|scroll|share|shoutbox|sidebar|skyscraper|sponsor|shopping|tags|tool|widget`, regexp2.IgnoreCase)
	reHashURL            = regexp2.MustCompile(`^#.+`, regexp2.None)
)

// checkEvery is how many scored nodes pass between context checks.
const checkEvery = 64

func match(re *regexp2.Regexp, s string) bool {
	if s == "" {
		return false
	}
	ok, _ := re.MatchString(s)
	return ok
}

// divToParagraph lists the children that keep a <div> from being treated as
// a paragraph.
var divToParagraph = map[atom.Atom]bool{
	atom.Blockquote: true,
	atom.Dl:         true,
	atom.Div:        true,
	atom.Img:        true,
	atom.Ol:         true,
	atom.P:          true,
	atom.Pre:        true,
	atom.Table:      true,
	atom.Ul:         true,
	atom.Select:     true,
}

type scorer struct {
	ctx    context.Context
	doc    *goquery.Document
	scores map[*html.Node]float64
}

func newScorer(ctx context.Context, doc *goquery.Document) *scorer {
	return &scorer{
		ctx:    ctx,
		doc:    doc,
		scores: make(map[*html.Node]float64),
	}
}

func (sc *scorer) selection(n *html.Node) *goquery.Selection {
	return sc.doc.FindNodes(n)
}

// stripUnlikely removes elements whose class or id marks them as page
// furniture.
func (sc *scorer) stripUnlikely(body *goquery.Selection) {
	body.Find("*").Each(func(_ int, s *goquery.Selection) {
		switch s.Nodes[0].DataAtom {
		case atom.Body, atom.A, atom.Article, atom.Main:
			return
		}
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		key := class + " " + id
		if !match(reUnlikelyCandidates, key) || match(reMaybeCandidate, key) {
			return
		}
		if s.Closest("table, code").Length() > 0 {
			return
		}
		s.Remove()
	})
}

// promoteDivs retags divs holding only phrasing content as paragraphs.
func (sc *scorer) promoteDivs(body *goquery.Selection) {
	body.Find("div").Each(func(_ int, s *goquery.Selection) {
		for c := s.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && divToParagraph[c.DataAtom] {
				return
			}
		}
		s.Nodes[0].Data = "p"
		s.Nodes[0].DataAtom = atom.P
	})
}

func (sc *scorer) initialScore(s *goquery.Selection) float64 {
	score := float64(classWeight(s))
	switch s.Nodes[0].DataAtom {
	case atom.Div:
		score += 5
	case atom.Pre, atom.Td, atom.Blockquote:
		score += 3
	case atom.Address, atom.Ol, atom.Ul, atom.Dl, atom.Dd, atom.Dt, atom.Li, atom.Form:
		score -= 3
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Th:
		score -= 5
	}
	return score
}

// topCandidate scores paragraphs into their parent and grandparent and picks
// the best scoring container.
func (sc *scorer) topCandidate() (*goquery.Selection, error) {
	body := sc.doc.Find("body").First()
	if body.Length() == 0 {
		return nil, engine.ErrNoContent
	}
	sc.stripUnlikely(body)
	sc.promoteDivs(body)

	var (
		candidates []*html.Node
		err        error
		seen       int
	)
	body.Find("p, pre, td").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		seen++
		if seen%checkEvery == 0 {
			if err = sc.ctx.Err(); err != nil {
				return false
			}
		}
		text := innerText(s)
		length := len([]rune(text))
		if length < 25 {
			return true
		}
		score := 1 + float64(strings.Count(text, ",")) + math.Min(float64(length)/100, 3)

		ancestor := s.Parent()
		for level := 0; level < 2 && ancestor.Length() > 0; level++ {
			node := ancestor.Nodes[0]
			if node.Type != html.ElementNode {
				break
			}
			if _, ok := sc.scores[node]; !ok {
				sc.scores[node] = sc.initialScore(ancestor)
				candidates = append(candidates, node)
			}
			if level == 0 {
				sc.scores[node] += score
			} else {
				sc.scores[node] += score / 2
			}
			ancestor = ancestor.Parent()
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	var (
		top  *html.Node
		best float64
	)
	for _, node := range candidates {
		score := sc.scores[node] * (1 - linkDensity(sc.selection(node)))
		sc.scores[node] = score
		if top == nil || score > best {
			top, best = node, score
		}
	}
	if top == nil {
		if textLen(body) == 0 {
			return nil, engine.ErrNoContent
		}
		return body, nil
	}
	return sc.selection(top), nil
}

// appendRelatedSiblings wraps the top candidate together with siblings that
// look like part of the same article.
func (sc *scorer) appendRelatedSiblings(top *goquery.Selection) *goquery.Selection {
	node := top.Nodes[0]
	parent := node.Parent
	if node.DataAtom == atom.Body || parent == nil || parent.Type != html.ElementNode {
		return top
	}

	topScore := sc.scores[node]
	threshold := math.Max(10, topScore*0.2)
	topClass, _ := top.Attr("class")

	var keep []*html.Node
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c == node {
			keep = append(keep, c)
			continue
		}
		s := sc.selection(c)
		bonus := 0.0
		if class, _ := s.Attr("class"); class != "" && class == topClass {
			bonus = topScore * 0.2
		}
		if score, ok := sc.scores[c]; ok && score+bonus >= threshold {
			keep = append(keep, c)
			continue
		}
		if c.DataAtom == atom.P {
			text := innerText(s)
			length := len([]rune(text))
			density := linkDensity(s)
			if (length > 80 && density < 0.25) || (length > 0 && length <= 80 && density == 0 && endsSentence(text)) {
				keep = append(keep, c)
			}
		}
	}
	if len(keep) == 1 {
		return top
	}

	wrap := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	parent.InsertBefore(wrap, keep[0])
	for _, c := range keep {
		parent.RemoveChild(c)
		wrap.AppendChild(c)
	}
	sc.scores[wrap] = topScore
	return sc.selection(wrap)
}

func endsSentence(text string) bool {
	return strings.HasSuffix(text, ".") || strings.Contains(text, ". ")
}

func classWeight(s *goquery.Selection) int {
	weight := 0
	for _, name := range []string{"class", "id"} {
		v, _ := s.Attr(name)
		if match(reNegative, v) {
			weight -= 25
		}
		if match(rePositive, v) {
			weight += 25
		}
	}
	return weight
}

// linkDensity is the share of text inside links; in-page anchors count less.
func linkDensity(s *goquery.Selection) float64 {
	length := textLen(s)
	if length == 0 {
		return 0
	}
	var linkLength float64
	s.Find("a").Each(func(_ int, a *goquery.Selection) {
		coefficient := 1.0
		if href, ok := a.Attr("href"); ok && match(reHashURL, href) {
			coefficient = 0.3
		}
		linkLength += float64(textLen(a)) * coefficient
	})
	return linkLength / float64(length)
}
