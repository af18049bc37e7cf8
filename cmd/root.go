// Package cmd defines the listingcrawler CLI.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Streams are injectable for tests.
func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listingcrawler",
		Short: "Crawls marketplace listings behind an anonymizing proxy.",
		Long: `listingcrawler walks the category pages of marketplace origins that sit
behind anti-automation gates, fetching every product page it discovers
through an HTTP or SOCKS5 proxy. A real browser bootstraps each origin's
session; plain HTTP does the rest. Records are saved locally on every exit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().String("config", "", "path to a YAML config file")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(stdin, stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "listingcrawler: %v\n", err)
		return 1
	}
	return 0
}
