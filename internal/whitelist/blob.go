package whitelist

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/sunbk201/speedreader/internal/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// Blob layout: Magic, one format byte, then a protobuf wire message
//
//	Whitelist { uint32 version = 1; repeated Entry entries = 2; }
//	Entry     { repeated string domains = 1; int32 type = 2;
//	            bytes config = 3; repeated string url_rules = 4; }
const (
	Magic         = "SRWL"
	FormatVersion = 1
)

const (
	fieldVersion protowire.Number = 1
	fieldEntries protowire.Number = 2

	fieldDomains  protowire.Number = 1
	fieldType     protowire.Number = 2
	fieldConfig   protowire.Number = 3
	fieldURLRules protowire.Number = 4
)

var (
	ErrEmptyBlob = errors.New("whitelist blob is empty")
	ErrBadMagic  = errors.New("whitelist blob has a bad magic")
	ErrFormat    = errors.New("whitelist blob format is not supported")
)

// Marshal encodes the whitelist as a blob.
func (w *Whitelist) Marshal() []byte {
	b := append([]byte(Magic), FormatVersion)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(w.Version))
	for _, e := range w.Entries {
		b = protowire.AppendTag(b, fieldEntries, protowire.BytesType)
		b = protowire.AppendBytes(b, e.marshal())
	}
	return b
}

func (e *Entry) marshal() []byte {
	var b []byte
	for _, d := range e.Domains {
		b = protowire.AppendTag(b, fieldDomains, protowire.BytesType)
		b = protowire.AppendString(b, d)
	}
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Type))
	if len(e.Config) > 0 {
		b = protowire.AppendTag(b, fieldConfig, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Config)
	}
	for _, r := range e.URLRules {
		b = protowire.AppendTag(b, fieldURLRules, protowire.BytesType)
		b = protowire.AppendString(b, r)
	}
	return b
}

// Unmarshal parses and validates a blob. Any defect rejects the whole blob.
func Unmarshal(blob []byte) (*Whitelist, error) {
	if len(blob) == 0 {
		return nil, ErrEmptyBlob
	}
	if len(blob) < len(Magic)+1 || !bytes.Equal(blob[:len(Magic)], []byte(Magic)) {
		return nil, ErrBadMagic
	}
	if v := blob[len(Magic)]; v != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrFormat, v)
	}

	var (
		version uint32
		entries []*Entry
	)
	err := consumeFields(blob[len(Magic)+1:], func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			version = uint32(v)
			return n, nil
		case num == fieldEntries && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			e, err := unmarshalEntry(v)
			if err != nil {
				return 0, fmt.Errorf("entry %d: %w", len(entries), err)
			}
			entries = append(entries, e)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	return New(version, entries)
}

func unmarshalEntry(b []byte) (*Entry, error) {
	e := &Entry{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldDomains && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.Domains = append(e.Domains, v)
			return n, nil
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Type = common.RewriterType(int32(v))
			return n, nil
		case num == fieldConfig && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			e.Config = append([]byte(nil), v...)
			return n, nil
		case num == fieldURLRules && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.URLRules = append(e.URLRules, v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// consumeFields walks a message, handing each field's value to fn, which
// returns how many bytes it consumed or a negative protowire error code.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("whitelist blob: %w", protowire.ParseError(n))
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("whitelist blob field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
