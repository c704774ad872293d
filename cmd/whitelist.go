package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sunbk201/speedreader/internal/speedreader"
	"github.com/sunbk201/speedreader/internal/whitelist"
	"github.com/sunbk201/speedreader/internal/whitelist/compile"
)

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Build and inspect whitelists",
}

var whitelistCompileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a YAML whitelist source into a whitelist blob",
	RunE:  runWhitelistCompile,
}

var whitelistCheckCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Show whether a URL is readable and which rewriter it gets",
	Args:  cobra.ExactArgs(1),
	RunE:  runWhitelistCheck,
}

var whitelistDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print a whitelist blob as YAML source",
	RunE:  runWhitelistDump,
}

var (
	whitelistInput  string
	whitelistOutput string
	whitelistFile   string
)

func init() {
	whitelistCompileCmd.Flags().StringVarP(&whitelistInput, "input", "i", "", "YAML whitelist source")
	whitelistCompileCmd.Flags().StringVarP(&whitelistOutput, "output", "o", "whitelist.bin", "Output blob path")
	_ = whitelistCompileCmd.MarkFlagRequired("input")

	whitelistCheckCmd.Flags().StringVar(&whitelistFile, "whitelist", "", "Whitelist blob (default built-in)")
	whitelistDumpCmd.Flags().StringVar(&whitelistFile, "whitelist", "", "Whitelist blob (default built-in)")

	whitelistCmd.AddCommand(whitelistCompileCmd)
	whitelistCmd.AddCommand(whitelistCheckCmd)
	whitelistCmd.AddCommand(whitelistDumpCmd)
	rootCmd.AddCommand(whitelistCmd)
}

func loadStore(path string) (*whitelist.Store, error) {
	store := whitelist.NewDefaultStore()
	if path == "" {
		return store, nil
	}
	if err := store.LoadFile(path); err != nil {
		return nil, err
	}
	return store, nil
}

func runWhitelistCompile(cmd *cobra.Command, args []string) error {
	if err := compile.CompileFile(whitelistInput, whitelistOutput); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Whitelist written to %s\n", whitelistOutput)
	return nil
}

func runWhitelistCheck(cmd *cobra.Command, args []string) error {
	store, err := loadStore(whitelistFile)
	if err != nil {
		return err
	}
	sr := speedreader.New(store)
	rawURL := args[0]
	fmt.Fprintf(cmd.OutOrStdout(), "url: %s\nreadable: %t\ntype: %s\n",
		rawURL, sr.ReadableURL(rawURL), sr.RewriterTypeForURL(rawURL))
	if e, ok := sr.Entry(rawURL); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "domains: %v\n", e.Domains)
	}
	return nil
}

func runWhitelistDump(cmd *cobra.Command, args []string) error {
	store, err := loadStore(whitelistFile)
	if err != nil {
		return err
	}
	src, err := compile.FromWhitelist(store.Current())
	if err != nil {
		return fmt.Errorf("compile.FromWhitelist: %w", err)
	}
	out, err := src.Marshal()
	if err != nil {
		return fmt.Errorf("src.Marshal: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
