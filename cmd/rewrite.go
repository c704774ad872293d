package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/engine"
	"github.com/sunbk201/speedreader/internal/rewriter"
	"github.com/sunbk201/speedreader/internal/speedreader"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <url> [file]",
	Short: "Rewrite a saved page as if it was served from url",
	Long:  "Rewrite reads an HTML document from file, or stdin when omitted, and writes the reader view to stdout.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRewrite,
}

var (
	rewriteType      string
	rewriteStream    bool
	rewriteWhitelist string
	rewriteTheme     string
)

func init() {
	rewriteCmd.Flags().StringVarP(&rewriteType, "type", "t", "", "Rewriter: streaming or heuristics (default from whitelist)")
	rewriteCmd.Flags().BoolVar(&rewriteStream, "stream", false, "Write output as it is produced")
	rewriteCmd.Flags().StringVar(&rewriteWhitelist, "whitelist", "", "Whitelist blob (default built-in)")
	rewriteCmd.Flags().StringVar(&rewriteTheme, "theme", "", "Reader theme: light, dark, sepia")
	rootCmd.AddCommand(rewriteCmd)
}

func runRewrite(cmd *cobra.Command, args []string) error {
	typ, err := common.ParseRewriterType(rewriteType)
	if err != nil {
		return err
	}
	store, err := loadStore(rewriteWhitelist)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 2 {
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("os.Open: %w", err)
		}
		defer f.Close()
		in = f
	}

	opts := engine.DefaultOptions()
	opts.Theme = rewriteTheme
	sr := speedreader.New(store, speedreader.WithEngineOptions(opts))

	out := cmd.OutOrStdout()
	var sessionOpts []rewriter.Option
	var sinkErr error
	if rewriteStream {
		sessionOpts = append(sessionOpts, rewriter.WithSink(func(p []byte) {
			if sinkErr == nil {
				_, sinkErr = out.Write(p)
			}
		}))
	}

	r, err := sr.RewriterNew(context.Background(), args[0], typ, sessionOpts...)
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := io.Copy(r, in); err != nil {
		return err
	}
	if err := r.End(); err != nil {
		return err
	}
	if sinkErr != nil {
		return sinkErr
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "rewriter: %s\n", r.Type())
	if rewriteStream {
		return nil
	}
	_, err = out.Write(r.Output())
	return err
}
