package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revstore/internal/core"
	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff [branch]",
	Short: "Show changes on a branch",
	Long: `Show the documents added, changed and removed on a branch since a
timestamp. Without --since, changes since the branch was created are shown.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runDiff,
}

var (
	diffSince int64
	diffStat  bool
)

func init() {
	diffCmd.Flags().Int64Var(&diffSince, "since", 0, "Compare against this timestamp (default: branch base)")
	diffCmd.Flags().BoolVar(&diffStat, "stat", false, "Show counts only")
}

func runDiff(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext()
	defer closeContext(c)

	branch := models.MainBranch
	if len(args) > 0 {
		branch = args[0]
	}

	cs, err := core.Compare(ctx, c.Store, branch, diffSince)
	if err != nil {
		exitError("failed to compute diff: %v", err)
	}

	if cs.IsEmpty() {
		fmt.Println("No changes")
		return
	}

	added, changed, removed := cs.Counts()
	if diffStat {
		fmt.Printf(" %d added, %d changed, %d removed\n", added, changed, removed)
		return
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, id := range cs.IDs(models.ChangeAdded) {
		green.Printf("  + %s", id)
		if container, ok := cs.Container(id); ok {
			fmt.Printf(" (in %s)", container)
		}
		fmt.Println()
	}
	for _, id := range cs.IDs(models.ChangeChanged) {
		yellow.Printf("  ~ %s\n", id)
	}
	for _, id := range cs.IDs(models.ChangeRemoved) {
		red.Printf("  - %s\n", id)
	}
	fmt.Printf("\n %d added, %d changed, %d removed\n", added, changed, removed)
}
