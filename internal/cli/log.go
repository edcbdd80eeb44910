package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log [branch]",
	Short: "Show commit history",
	Long:  `Display the commit history of a branch, newest first.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runLog,
}

var (
	logOneline bool
	logLimit   int
)

func init() {
	logCmd.Flags().BoolVar(&logOneline, "oneline", false, "Show each commit on a single line")
	logCmd.Flags().IntVarP(&logLimit, "n", "n", 0, "Limit the number of commits to show")
}

func runLog(cmd *cobra.Command, args []string) {
	c := initContext()
	defer closeContext(c)

	branch := models.MainBranch
	if len(args) > 0 {
		branch = args[0]
	}

	st := c.Store
	commits, err := st.Log(branch, logLimit)
	if err != nil {
		exitError("failed to get commit log: %v", err)
	}

	if len(commits) == 0 {
		fmt.Println("No commits yet")
		return
	}

	yellow := color.New(color.FgYellow)
	magenta := color.New(color.FgMagenta)

	for i, commit := range commits {
		isHead := i == 0

		if logOneline {
			yellow.Printf("%s ", commit.ShortID())
			if isHead {
				color.New(color.FgCyan).Print("(HEAD) ")
			}
			if commit.IsMergeCommit() {
				magenta.Printf("[merge %s] ", commit.MergeSource)
			}
			fmt.Println(commit.Comment)
			continue
		}

		yellow.Printf("commit %s", commit.ID)
		if isHead {
			color.New(color.FgCyan).Print(" (HEAD)")
		}
		if commit.IsMergeCommit() {
			magenta.Printf(" [merge %s]", commit.MergeSource)
		}
		fmt.Println()
		fmt.Printf("Author: %s\n", commit.Author)
		fmt.Printf("Date:   %s\n", commit.CreatedAt.Format("Mon Jan 2 15:04:05 2006"))
		fmt.Printf("\n    %s\n", commit.Comment)
		fmt.Printf("    (%d added, %d changed, %d removed)\n\n", len(commit.Added), len(commit.Changed), len(commit.Removed))
	}
}
