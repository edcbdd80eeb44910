package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit [branch]",
	Short: "Show the audit trail",
	Long: `Display the audit trail of realized commits, newest first.
Without a branch, entries of every branch are shown.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runAudit,
}

var auditLimit int

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "n", "n", 20, "Limit the number of entries to show (0 for all)")
}

func runAudit(cmd *cobra.Command, args []string) {
	c := initContext()
	defer closeContext(c)

	branch := ""
	if len(args) > 0 {
		branch = args[0]
	}

	entries, err := c.Audit.List(context.Background(), branch, auditLimit)
	if err != nil {
		exitError("failed to read audit log: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries")
		return
	}

	yellow := color.New(color.FgYellow)
	magenta := color.New(color.FgMagenta)
	for _, e := range entries {
		yellow.Printf("%s ", shortID(e.CommitID))
		fmt.Printf("%s %-20s %-12s", e.RecordedAt.Format("2006-01-02 15:04:05"), e.Branch, e.Author)
		if e.MergeSource != "" {
			magenta.Printf(" [merge %s]", e.MergeSource)
		}
		fmt.Printf(" +%d ~%d -%d %s\n", len(e.Added), len(e.Changed), len(e.Removed), e.Comment)
	}
}
