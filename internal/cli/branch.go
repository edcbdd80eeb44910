package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/store"
	"github.com/spf13/cobra"
)

var branchCmd = &cobra.Command{
	Use:   "branch [name]",
	Short: "List, create, or delete branches",
	Long: `Manage branches in the revstore workspace.

Without arguments, lists all branches.
With a name argument, creates a child branch of --parent at its current head.

Examples:
  revstore branch                                  # List all branches
  revstore branch A                                # Create MAIN/A
  revstore branch B --parent MAIN/A                # Create MAIN/A/B
  revstore branch EXT --extension-of MAIN          # Create an extension of MAIN
  revstore branch -d MAIN/A                        # Delete MAIN/A`,
	Args: cobra.MaximumNArgs(1),
	Run:  runBranch,
}

var (
	branchDelete      bool
	branchParent      string
	branchExtensionOf string
)

func init() {
	branchCmd.Flags().BoolVarP(&branchDelete, "delete", "d", false, "Delete a branch")
	branchCmd.Flags().StringVar(&branchParent, "parent", models.MainBranch, "Parent branch path")
	branchCmd.Flags().StringVar(&branchExtensionOf, "extension-of", "", "Branch this one extends (for content donation)")
}

func runBranch(cmd *cobra.Command, args []string) {
	c := initContext()
	defer closeContext(c)

	st := c.Store

	// Delete branch
	if branchDelete {
		if len(args) == 0 {
			exitError("branch path required for deletion")
		}
		if err := st.DeleteBranch(args[0]); err != nil {
			exitError("%v", err)
		}
		fmt.Printf("Deleted branch '%s'\n", args[0])
		return
	}

	// Create branch
	if len(args) > 0 {
		branch, err := st.CreateBranch(branchParent, args[0], store.BranchOptions{ExtensionOf: branchExtensionOf})
		if err != nil {
			exitError("%v", err)
		}
		fmt.Printf("Created branch '%s' at %d\n", branch.Path, branch.BaseTimestamp)
		return
	}

	// List branches
	branches, err := st.ListBranches()
	if err != nil {
		exitError("failed to list branches: %v", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	for _, branch := range branches {
		if branch.IsRoot() {
			green.Printf("* %s", branch.Path)
		} else {
			fmt.Printf("  %s", branch.Path)
		}
		fmt.Printf(" (head %d)", branch.HeadTimestamp)
		if branch.ExtensionOf != "" {
			cyan.Printf(" extends %s", branch.ExtensionOf)
		}
		fmt.Println()
	}
}
