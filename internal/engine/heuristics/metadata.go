package heuristics

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"github.com/dlclark/regexp2"
	"golang.org/x/net/html"
)

// Meta is what the document says about itself.
type Meta struct {
	Title        string    `json:"title"`
	Author       string    `json:"author,omitempty"`
	Description  string    `json:"description,omitempty"`
	Charset      string    `json:"charset,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// merge prefers m over other, except that the shorter description wins.
func (m Meta) merge(other Meta) Meta {
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.Author == "" {
		m.Author = other.Author
	}
	switch {
	case m.Description == "":
		m.Description = other.Description
	case other.Description != "" && utf8.RuneCountInString(other.Description) <= utf8.RuneCountInString(m.Description):
		m.Description = other.Description
	}
	if m.Charset == "" {
		m.Charset = other.Charset
	}
	if m.LastModified.IsZero() {
		m.LastModified = other.LastModified
	}
	return m
}

var jsonLDArticleTypes = map[string]bool{
	"Article":                  true,
	"AdvertiserContentArticle": true,
	"NewsArticle":              true,
	"AnalysisNewsArticle":      true,
	"AskPublicNewsArticle":     true,
	"BackgroundNewsArticle":    true,
	"OpinionNewsArticle":       true,
	"ReportageNewsArticle":     true,
	"ReviewNewsArticle":        true,
	"Report":                   true,
	"SatiricalArticle":         true,
	"ScholarlyArticle":         true,
	"MedicalScholarlyArticle":  true,
	"SocialMediaPosting":       true,
	"BlogPosting":              true,
	"LiveBlogPosting":          true,
	"DiscussionForumPosting":   true,
	"TechArticle":              true,
	"APIReference":             true,
}

var jsonLDSchema = regexp2.MustCompile(`^https?://schema\.org[/?\w/?]*$`, regexp2.None)

var (
	errJSONLDContext = errors.New("json-ld: missing or invalid @context")
	errJSONLDType    = errors.New("json-ld: missing or invalid @type")
)

// extractMetadata collects title, author, description, charset and
// modification time. JSON-LD is preferred over <meta> tags, which are
// preferred over <title>.
func extractMetadata(root *html.Node) Meta {
	var fromJSONLD Meta
	for _, n := range htmlquery.Find(root, `//script[@type='application/ld+json']`) {
		if err := parseJSONLD(htmlquery.InnerText(n), &fromJSONLD); err == nil {
			break
		}
	}

	var fromTags Meta
	for _, n := range htmlquery.Find(root, `//meta`) {
		property := htmlquery.SelectAttr(n, "property")
		if property == "" {
			property = htmlquery.SelectAttr(n, "name")
		}
		content := htmlquery.SelectAttr(n, "content")

		switch {
		case property != "":
			if content == "" {
				continue
			}
			switch strings.ToLower(property) {
			case "dc:title", "dcterm:title", "og:title", "weibo:article:title", "weibo:webpage:title", "title", "twitter:title":
				fromTags.Title = content
			case "description", "dc:description", "dcterm:description", "og:description",
				"weibo:article:description", "weibo:webpage:description", "twitter:description":
				if fromTags.Description == "" || utf8.RuneCountInString(content) < utf8.RuneCountInString(fromTags.Description) {
					fromTags.Description = content
				}
			case "dc:creator", "dcterm:creator", "author":
				fromTags.Author = content
			}
		case htmlquery.SelectAttr(n, "charset") != "":
			fromTags.Charset = htmlquery.SelectAttr(n, "charset")
		case strings.EqualFold(htmlquery.SelectAttr(n, "http-equiv"), "content-type"):
			if _, cs, ok := strings.Cut(content, "charset="); ok {
				fromTags.Charset = strings.TrimSpace(cs)
			}
		}
	}

	meta := fromJSONLD.merge(fromTags)
	if meta.Title == "" {
		if n := htmlquery.FindOne(root, `//title`); n != nil {
			meta.Title = collapseSpace(htmlquery.InnerText(n))
		}
	}

	meta.Title = htmlDecode(meta.Title)
	meta.Author = htmlDecode(meta.Author)
	meta.Description = htmlDecode(meta.Description)
	return meta
}

func parseJSONLD(blob string, meta *Meta) error {
	var v map[string]any
	if err := json.Unmarshal([]byte(blob), &v); err != nil {
		return err
	}

	ctx, _ := v["@context"].(string)
	if ok, _ := jsonLDSchema.MatchString(ctx); !ok {
		return errJSONLDContext
	}
	typ, _ := v["@type"].(string)
	if !jsonLDArticleTypes[typ] {
		return errJSONLDType
	}

	if title := jsonString(v["name"]); title != "" {
		meta.Title = title
	} else if title := jsonString(v["headline"]); title != "" {
		meta.Title = title
	}
	if author := parseAuthor(v["author"]); author != "" {
		meta.Author = author
	}
	if desc := jsonString(v["description"]); desc != "" {
		meta.Description = desc
	}
	stamp := jsonString(v["dateModified"])
	if stamp == "" {
		stamp = jsonString(v["datePublished"])
	}
	if t, err := time.Parse(time.RFC3339, stamp); err == nil {
		meta.LastModified = t
	}
	return nil
}

func jsonString(v any) string {
	s, _ := v.(string)
	return s
}

// parseAuthor accepts a name, an object with a name, a list of either, or a
// string holding any of those as JSON.
func parseAuthor(v any) string {
	switch a := v.(type) {
	case string:
		var nested any
		if err := json.Unmarshal([]byte(a), &nested); err == nil {
			if name := parseAuthor(nested); name != "" {
				return name
			}
		}
		return a
	case []any:
		names := make([]string, 0, len(a))
		for _, e := range a {
			if name := parseAuthor(e); name != "" {
				names = append(names, name)
			}
		}
		return strings.Join(names, ", ")
	case map[string]any:
		return jsonString(a["name"])
	}
	return ""
}
