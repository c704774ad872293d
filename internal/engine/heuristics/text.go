package heuristics

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// Policies are not safe for concurrent use, so each sanitizing call borrows
// one from a pool.
var strictPool = sync.Pool{
	New: func() any {
		return bluemonday.StrictPolicy()
	},
}

// htmlDecode turns attribute text such as "&lt;b&gt;Geek&#039;s&lt;/b&gt;"
// into plain text.
func htmlDecode(s string) string {
	if s == "" {
		return s
	}
	policy := strictPool.Get().(*bluemonday.Policy)
	defer strictPool.Put(policy)
	return normalize(html.UnescapeString(policy.Sanitize(html.UnescapeString(s))))
}

func normalize(s string) string {
	return collapseSpace(norm.NFC.String(s))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func innerText(s *goquery.Selection) string {
	return collapseSpace(s.Text())
}

func textLen(s *goquery.Selection) int {
	return len([]rune(innerText(s)))
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// firstSentence returns the byte offset just past the first sentence
// terminator followed by a space, or -1.
func firstSentence(s string) int {
	runes := []rune(s)
	offset := 0
	for i, r := range runes {
		offset += len(string(r))
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return offset
		}
	}
	return -1
}
