package heuristics

import (
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element ids the reader view stylesheet and script hook into.
const (
	MetaAreaID     = "3bafd2b4-a87d-4471-8134-7a9cca092000"
	MainContentID  = "7c08a417-bf02-4241-a55e-ad5b8dc88f69"
	ReadTimeID     = "da24e4ef-db57-4b9f-9fa5-548924fc9c32"
	ShowOriginalID = "c93e2206-2f31-4ddc-9828-2bb8e8ed940e"
)

const (
	dateLayout   = "Jan 02, 2006 03:04 PM"
	subheadLimit = 200
)

var ugcPool = sync.Pool{
	New: func() any {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("id", "class").Globally()
		p.AllowElements("main", "article", "section", "figure", "figcaption", "picture", "time")
		p.AllowAttrs("src", "srcset", "sizes", "type", "media").OnElements("source")
		p.AllowAttrs("srcset", "sizes").OnElements("img")
		p.AllowAttrs("datetime").OnElements("time")
		p.AllowAttrs("src", "width", "height", "allowfullscreen").OnElements("iframe")
		return p
	},
}

func sanitize(s string) string {
	policy := ugcPool.Get().(*bluemonday.Policy)
	defer ugcPool.Put(policy)
	return policy.Sanitize(s)
}

func element(tag, class, text string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	if class != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return n
}

func setID(n *html.Node, id string) {
	for i := range n.Attr {
		if n.Attr[i].Key == "id" {
			n.Attr[i].Val = id
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "id", Val: id})
}

// postProcess moves the article into a main-content container and puts a
// metadata header in front of it.
func postProcess(top *goquery.Selection, meta Meta) {
	root := top.Nodes[0]

	area := element("div", "", "")
	setID(area, MetaAreaID)
	if meta.Title != "" {
		area.AppendChild(element("h1", "title metadata", meta.Title))
	}
	if meta.Description != "" {
		desc := meta.Description
		if len([]rune(desc)) > subheadLimit {
			if end := firstSentence(desc); end > 0 {
				desc = desc[:end]
			}
		}
		area.AppendChild(element("p", "subhead metadata", desc))
	}

	hasByline := meta.Author != "" || !meta.LastModified.IsZero()
	if hasByline {
		area.AppendChild(element("hr", "", ""))
	}
	byline := element("div", "metadata", "")
	area.AppendChild(byline)
	if meta.Author != "" {
		byline.AppendChild(element("p", "author", "By "+meta.Author))
	}
	if !meta.LastModified.IsZero() {
		byline.AppendChild(element("p", "date", meta.LastModified.Format(dateLayout)))
	}
	readTime := element("div", "readtime", "")
	setID(readTime, ReadTimeID)
	byline.AppendChild(readTime)
	showOriginal := element("div", "show_original", "")
	setID(showOriginal, ShowOriginalID)
	byline.AppendChild(showOriginal)
	if meta.Title != "" || meta.Description != "" || hasByline {
		area.AppendChild(element("hr", "", ""))
	}

	content := element("div", "", "")
	setID(content, MainContentID)
	for c := root.FirstChild; c != nil; {
		next := c.NextSibling
		root.RemoveChild(c)
		content.AppendChild(c)
		c = next
	}
	root.AppendChild(area)
	root.AppendChild(content)
}
