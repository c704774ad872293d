// Package compile converts the YAML source form of a whitelist into the
// binary blob the store loads, and back.
package compile

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/engine/streaming"
	"github.com/sunbk201/speedreader/internal/whitelist"
	"go.yaml.in/yaml/v3"
)

type Source struct {
	Version uint32  `yaml:"version" json:"version"`
	Entries []Entry `yaml:"entries" json:"entries" validate:"required,min=1,dive"`
}

type Entry struct {
	Domains  []string         `yaml:"domains" json:"domains" validate:"required,min=1,dive,hostname_rfc1123"`
	Type     string           `yaml:"type" json:"type" validate:"required,oneof=streaming heuristics"`
	URLRules []string         `yaml:"url-rules,omitempty" json:"url_rules,omitempty"`
	Rules    *streaming.Rules `yaml:"rules,omitempty" json:"rules,omitempty" validate:"required_if=Type streaming"`
}

// Parse decodes and validates YAML source.
func Parse(data []byte) (*Source, error) {
	var src Source
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("yaml.Unmarshal: %w", err)
	}
	validate := validator.New()
	if err := validate.Struct(&src); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return &src, nil
}

// Whitelist builds the whitelist the source describes.
func (s *Source) Whitelist() (*whitelist.Whitelist, error) {
	entries := make([]*whitelist.Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		typ, err := common.ParseRewriterType(e.Type)
		if err != nil {
			return nil, err
		}
		entry := &whitelist.Entry{
			Domains:  append([]string(nil), e.Domains...),
			Type:     typ,
			URLRules: append([]string(nil), e.URLRules...),
		}
		if e.Rules != nil {
			entry.Config = e.Rules.Marshal()
		}
		entries = append(entries, entry)
	}
	return whitelist.New(s.Version, entries)
}

// Compile turns YAML source into a blob.
func Compile(data []byte) ([]byte, error) {
	src, err := Parse(data)
	if err != nil {
		return nil, err
	}
	w, err := src.Whitelist()
	if err != nil {
		return nil, err
	}
	return w.Marshal(), nil
}

func CompileFile(in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("os.ReadFile: %w", err)
	}
	blob, err := Compile(data)
	if err != nil {
		return fmt.Errorf("compile %s: %w", in, err)
	}
	// Replace by rename so a watching store never reads a partial blob.
	tmp := out + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return fmt.Errorf("os.WriteFile: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("os.Rename: %w", err)
	}
	return nil
}

// FromWhitelist renders a whitelist back into source form.
func FromWhitelist(w *whitelist.Whitelist) (*Source, error) {
	src := &Source{Version: w.Version}
	for _, e := range w.Entries {
		entry := Entry{
			Domains:  append([]string(nil), e.Domains...),
			Type:     e.Type.String(),
			URLRules: append([]string(nil), e.URLRules...),
		}
		if e.Type == common.RewriterStreaming {
			rules, err := e.Rules()
			if err != nil {
				return nil, err
			}
			entry.Rules = rules
		}
		src.Entries = append(src.Entries, entry)
	}
	return src, nil
}

// Marshal encodes the source as YAML.
func (s *Source) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}
