package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <source> <target>",
	Short: "Merge one branch into another",
	Long: `Merge the changes of the source branch into the target branch.

Changes made on both sides since the merge base are compared. If no conflict
remains after the merge rules and content donation, a merge commit is created
on the target.

Examples:
  revstore merge MAIN/A MAIN                # Promote A into MAIN
  revstore merge MAIN MAIN/A                # Rebase A onto MAIN
  revstore merge --dry-run MAIN/A MAIN      # Only report conflicts
  revstore merge -m "msg" MAIN/A MAIN       # Use custom merge commit message`,
	Args: cobra.ExactArgs(2),
	Run:  runMerge,
}

var (
	mergeMessage string
	mergeDryRun  bool
)

func init() {
	mergeCmd.Flags().StringVarP(&mergeMessage, "message", "m", "", "Custom merge commit message")
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Report conflicts without committing")
}

func runMerge(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext()
	defer closeContext(c)

	source, target := args[0], args[1]
	opts := models.MergeOptions{
		Author:  c.Config.Author,
		Comment: mergeMessage,
		DryRun:  mergeDryRun,
	}

	result, err := c.merger().Merge(ctx, source, target, opts)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed, color.Bold)

	for _, warning := range result.Warnings {
		yellow.Printf("%s\n", warning)
	}

	if !result.Success {
		printMergeConflicts(result, red)
		exitError("Automatic merge failed; resolve the conflicts on %s and merge again.", target)
	}

	if result.FromChanges != nil && result.FromChanges.IsEmpty() {
		return
	}

	if mergeDryRun {
		green.Println("Merge would succeed without conflicts.")
	} else if result.Commit != nil {
		fmt.Printf("Merge made into %s.\n", target)
		fmt.Printf("  Merge commit: %s\n", result.Commit.ShortID())
		if result.Attempts > 1 {
			yellow.Printf("  committed after %d attempts\n", result.Attempts)
		}
	}

	if result.FromChanges != nil {
		added, changed, removed := result.FromChanges.Counts()
		if added > 0 {
			green.Printf("  %d objects added\n", added)
		}
		if changed > 0 {
			yellow.Printf("  %d objects changed\n", changed)
		}
		if removed > 0 {
			color.New(color.FgRed).Printf("  %d objects removed\n", removed)
		}
	}
	if len(result.Donated) > 0 {
		color.New(color.FgCyan).Printf("  %d objects donated\n", len(result.Donated))
	}
}

func printMergeConflicts(result *models.MergeResult, red *color.Color) {
	red.Printf("\nCONFLICTS (%d):\n", len(result.Conflicts))
	for _, c := range result.Conflicts {
		fmt.Printf("  %s\n", c.Message())
	}
}
