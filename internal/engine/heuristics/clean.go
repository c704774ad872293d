package heuristics

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dlclark/regexp2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	reVideos = regexp2.MustCompile(`//(www\.)?((dailymotion|youtube|youtube-nocookie|player\.vimeo|v\.qq)\.com|(archive|upload\.wikimedia)\.org|player\.twitch\.tv)`, regexp2.IgnoreCase)
	reShare  = regexp2.MustCompile(`(\b|_)(share|sharedaddy)(\b|_)`, regexp2.IgnoreCase)
)

// preprocess drops markup that never carries article text.
func preprocess(doc *goquery.Document) {
	unwrapNoscriptImages(doc)
	doc.Find("script, style, link, template, noscript, svg, canvas, object, embed").Remove()
	doc.Find("[hidden], [aria-hidden=true]").Not("body, html").Remove()
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			s.Remove()
		}
	})
	doc.Find("font").Each(func(_ int, s *goquery.Selection) {
		s.Nodes[0].Data = "span"
		s.Nodes[0].DataAtom = atom.Span
	})
	removeComments(doc.Nodes[0])
}

func removeComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			removeComments(c)
		}
		c = next
	}
}

// unwrapNoscriptImages swaps lazy-loading placeholders for the real image a
// page ships inside <noscript>.
func unwrapNoscriptImages(doc *goquery.Document) {
	doc.Find("noscript").Each(func(_ int, s *goquery.Selection) {
		inner, err := goquery.NewDocumentFromReader(strings.NewReader(s.Text()))
		if err != nil {
			return
		}
		imgs := inner.Find("img")
		if imgs.Length() != 1 {
			return
		}
		markup, err := goquery.OuterHtml(imgs)
		if err != nil {
			return
		}
		if prev := s.Prev(); prev.Length() > 0 && prev.Is("img") {
			prev.Remove()
		}
		s.ReplaceWithHtml(markup)
	})
}

// clean strips what survived scoring but does not belong in the article.
func clean(top *goquery.Selection, sc *scorer, meta Meta, base *url.URL) {
	top.Find("form, fieldset, input, button, select, textarea, footer, aside, nav").Remove()
	top.Find("iframe").Each(func(_ int, s *goquery.Selection) {
		if src, _ := s.Attr("src"); !match(reVideos, src) {
			s.Remove()
		}
	})

	title := normalize(meta.Title)
	top.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		if classWeight(s) < 0 || (title != "" && innerText(s) == title) {
			s.Remove()
		}
	})
	top.Find("*").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if match(reShare, class+" "+id) && textLen(s) < 500 {
			s.Remove()
		}
	})

	cleanConditionally(top, sc, "table, ul, ol, div, section")

	top.Find("p").Each(func(_ int, s *goquery.Selection) {
		if textLen(s) == 0 && s.Find("img, picture, video, iframe").Length() == 0 {
			s.Remove()
		}
	})

	if base != nil {
		resolveURLs(top, base)
	}
}

// cleanConditionally removes containers that look more like navigation or
// advertising than prose. Inner elements are judged first.
func cleanConditionally(top *goquery.Selection, sc *scorer, selector string) {
	nodes := top.Find(selector).Nodes
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if n.Parent == nil {
			continue
		}
		s := sc.selection(n)
		if s.Length() == 0 {
			continue
		}
		if shouldDrop(s, sc.scores[n]) {
			n.Parent.RemoveChild(n)
		}
	}
}

func shouldDrop(s *goquery.Selection, score float64) bool {
	weight := classWeight(s)
	if float64(weight)+score < 0 {
		return true
	}
	text := innerText(s)
	if strings.Count(text, ",") >= 10 {
		return false
	}

	var (
		isList   = s.Is("ul, ol")
		p        = s.Find("p").Length()
		img      = s.Find("img").Length()
		li       = s.Find("li").Length() - 100
		input    = s.Find("input").Length()
		embeds   = s.Find("iframe, video").Length()
		density  = linkDensity(s)
		length   = len([]rune(text))
		inFigure = s.Closest("figure").Length() > 0
	)
	switch {
	case img > 1 && float64(p)/float64(img) < 0.5 && !inFigure:
		return true
	case !isList && li > p:
		return true
	case input > p/3:
		return true
	case !isList && length < 25 && (img == 0 || img > 2) && density > 0:
		return true
	case weight < 25 && density > 0.2:
		return true
	case weight >= 25 && density > 0.5:
		return true
	case (embeds == 1 && length < 75) || embeds > 1:
		return true
	}
	return false
}

var urlAttrs = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"img[src]", "src"},
	{"video[src]", "src"},
	{"audio[src]", "src"},
	{"source[src]", "src"},
	{"iframe[src]", "src"},
	{"video[poster]", "poster"},
}

// resolveURLs makes links and media sources absolute so the article still
// works when shown away from its page.
func resolveURLs(top *goquery.Selection, base *url.URL) {
	for _, ua := range urlAttrs {
		top.Find(ua.selector).Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr(ua.attr)
			v = strings.TrimSpace(v)
			if v == "" || strings.HasPrefix(v, "#") {
				return
			}
			if strings.HasPrefix(strings.ToLower(v), "javascript:") {
				s.RemoveAttr(ua.attr)
				return
			}
			if ref, err := url.Parse(v); err == nil {
				s.SetAttr(ua.attr, base.ResolveReference(ref).String())
			}
		})
	}
	top.Find("img[srcset], source[srcset]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("srcset")
		s.SetAttr("srcset", resolveSrcset(v, base))
	})
}

func resolveSrcset(v string, base *url.URL) string {
	parts := strings.Split(v, ",")
	for i, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		if ref, err := url.Parse(fields[0]); err == nil {
			fields[0] = base.ResolveReference(ref).String()
		}
		parts[i] = strings.Join(fields, " ")
	}
	return strings.Join(parts, ", ")
}
