package heuristics

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dlclark/regexp2"
)

var (
	titleSeparators = regexp2.MustCompile(`\s+[\|\\/>»]\s+`, regexp2.None)
	titleEndDash    = regexp2.MustCompile(`\s+(:?[—\-–])\s+.*$`, regexp2.None)
)

// cleanTitle strips site names that pages append or prepend to their title.
func cleanTitle(doc *goquery.Document, title string) string {
	runes := []rune(title)

	if m, _ := titleSeparators.FindStringMatch(title); m != nil {
		cur := string(runes[:m.Index])
		if wordCount(cur) < 3 {
			cur = string(runes[m.Index+m.Length:])
		}
		return strings.TrimSpace(cur)
	}

	if m, _ := titleEndDash.FindStringMatch(title); m != nil {
		if wordCount(string(runes[m.Index:])) <= 4 {
			return string(runes[:m.Index])
		}
		return title
	}

	if strings.Contains(title, ": ") {
		trimmed := strings.TrimSpace(title)
		matched := false
		doc.Find("h1, h2").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			matched = innerText(s) == trimmed
			return !matched
		})
		if matched {
			return title
		}

		cur := title[strings.LastIndex(title, ":")+1:]
		if wordCount(cur) < 3 {
			cur = title[strings.Index(title, ":")+1:]
		} else if wordCount(title[:strings.Index(title, ":")]) > 5 {
			return title
		}
		return strings.TrimSpace(cur)
	}
	return title
}
