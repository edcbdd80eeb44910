package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <commit>",
	Short: "Show commit details",
	Long:  `Show details about a specific commit including every touched document.`,
	Args:  cobra.ExactArgs(1),
	Run:   runShow,
}

func runShow(cmd *cobra.Command, args []string) {
	c := initContext()
	defer closeContext(c)

	st := c.Store
	commitID := args[0]

	commit, err := st.GetCommit(commitID)
	if err != nil {
		// Try short ID
		commit, err = st.GetCommitByShortID(commitID)
		if err != nil {
			exitError("commit not found: %s", commitID)
		}
	}

	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	magenta := color.New(color.FgMagenta)

	yellow.Printf("commit %s", commit.ID)
	if commit.IsMergeCommit() {
		magenta.Printf(" [merge %s]", commit.MergeSource)
	}
	fmt.Println()

	fmt.Printf("Branch: %s\n", commit.Branch)
	fmt.Printf("Author: %s\n", commit.Author)
	fmt.Printf("Date:   %s\n", commit.CreatedAt.Format("Mon Jan 2 15:04:05 2006"))
	fmt.Printf("Timestamp: %d\n", commit.Timestamp)
	fmt.Printf("\n    %s\n\n", commit.Comment)

	if len(commit.Touched()) == 0 {
		fmt.Println("No documents in this commit")
		return
	}

	fmt.Printf("Documents (%d):\n", len(commit.Touched()))
	printIDs(green, "+", commit.Added)
	printIDs(yellow, "~", commit.Changed)
	printIDs(red, "-", commit.Removed)
}

func printIDs(c *color.Color, marker string, ids []models.ObjectID) {
	for _, id := range ids {
		c.Printf("  %s %s/%s\n", marker, id.Type, shortID(id.ID))
	}
}
