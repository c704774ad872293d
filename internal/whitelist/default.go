package whitelist

import (
	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/engine/streaming"
)

// DefaultVersion is the version of the built-in whitelist.
const DefaultVersion = 1

var cnnRules = streaming.Rules{
	MainContent: []string{
		".pg-headline",
		".metadata",
		".media__video--thumbnail-wrapper img",
		"[data-zone-label=\"Paragraph\"]",
		".zn-body__paragraph",
		".el__leafmedia--sourced-paragraph",
		".headline__text",
		".article__content",
	},
	MainContentCleanup: []string{
		".m-share",
		".zn-body__read-more",
		".el__embedded--standard",
		".ad-feedback-link",
		".related-content",
	},
	Delazify:  true,
	FixEmbeds: true,
}

var heuristicsDomains = []string{
	"nytimes.com",
	"theguardian.com",
	"bbc.com",
	"bbc.co.uk",
	"washingtonpost.com",
	"theatlantic.com",
	"wired.com",
	"arstechnica.com",
	"medium.com",
	"vox.com",
	"buzzfeednews.com",
	"npr.org",
}

// Default is the built-in whitelist, used until a blob is loaded.
func Default() *Whitelist {
	w, err := New(DefaultVersion, []*Entry{
		{
			Domains: []string{"cnn.com"},
			Type:    common.RewriterStreaming,
			Config:  cnnRules.Marshal(),
		},
		{
			Domains: append([]string(nil), heuristicsDomains...),
			Type:    common.RewriterHeuristics,
		},
	})
	if err != nil {
		panic(err)
	}
	return w
}
