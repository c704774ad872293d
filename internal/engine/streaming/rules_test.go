package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRulesWireFormat(t *testing.T) {
	in := &Rules{
		MainContent:        []string{".pg-headline", ".zn-body__paragraph"},
		MainContentCleanup: []string{".ad"},
		Delazify:           true,
		ContentScript:      "init()",
	}
	out, err := ParseRules(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseRulesSkipsUnknownFields(t *testing.T) {
	b := (&Rules{MainContent: []string{"main"}}).Marshal()
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	r, err := ParseRules(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, r.MainContent)
}

func TestParseRulesRejects(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"truncated", (&Rules{MainContent: []string{".headline"}}).Marshal()[:4]},
		{"bad selector", (&Rules{MainContent: []string{"div[["}}).Marshal()},
		{"cleanup only", (&Rules{MainContentCleanup: []string{".ad"}}).Marshal()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules(tt.blob)
			assert.Error(t, err)
		})
	}
}
