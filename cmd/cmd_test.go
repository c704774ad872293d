package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const source = `
version: 5
entries:
  - domains: [example.com]
    type: streaming
    rules:
      main-content: [.story]
`

func execute(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestWhitelistCompileCheckDump(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "whitelist.yaml")
	blob := filepath.Join(dir, "whitelist.bin")
	require.NoError(t, os.WriteFile(src, []byte(source), 0644))

	execute(t, "", "whitelist", "compile", "-i", src, "-o", blob)
	_, err := os.Stat(blob)
	require.NoError(t, err)

	out := execute(t, "", "whitelist", "check", "--whitelist", blob, "https://www.example.com/a")
	assert.Contains(t, out, "readable: true")
	assert.Contains(t, out, "type: streaming")

	out = execute(t, "", "whitelist", "check", "--whitelist", blob, "https://cnn.com/a")
	assert.Contains(t, out, "readable: false")

	out = execute(t, "", "whitelist", "dump", "--whitelist", blob)
	assert.Contains(t, out, "version: 5")
	assert.Contains(t, out, ".story")
}

func TestRewriteFromStdin(t *testing.T) {
	page := `<html><body><nav>menu</nav><div class="pg-headline">hello world</div></body></html>`
	for _, stream := range []string{"--stream=false", "--stream=true"} {
		t.Run(stream, func(t *testing.T) {
			out := execute(t, page, "rewrite", stream, "--type", "", "--whitelist", "", "--theme", "",
				"https://cnn.com/news/article/topic/index.html")
			assert.Contains(t, out, "hello world")
			assert.NotContains(t, out, "menu")
		})
	}
}
