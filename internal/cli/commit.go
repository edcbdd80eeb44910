package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revstore/internal/core"
	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Apply an edit file to a branch",
	Long: `Apply the operations in an edit file to a branch as one commit.

The edit file is a YAML (or JSON) list of operations:

  - op: create
    object: {type: concept, id: "1000001"}
    properties: {active: true, moduleId: "900000000000207008"}
  - op: create
    object: {type: description, id: "1000011"}
    container: {type: concept, id: "1000001"}
    properties: {term: Heart}
  - op: delete
    object: {type: relationship, id: "4000021"}

Use "-" to read the edit file from stdin.`,
	Run: runCommit,
}

var (
	commitBranch  string
	commitMessage string
	commitFile    string
	commitAuthor  string
)

func init() {
	commitCmd.Flags().StringVarP(&commitBranch, "branch", "b", models.MainBranch, "Branch to commit to")
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message (required)")
	commitCmd.Flags().StringVarP(&commitFile, "file", "f", "", "Edit file with the operations to apply (required)")
	commitCmd.Flags().StringVar(&commitAuthor, "author", "", "Commit author (default: configured author)")
	commitCmd.MarkFlagRequired("message")
	commitCmd.MarkFlagRequired("file")
}

func runCommit(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext()
	defer closeContext(c)

	ops, err := readOperations(commitFile)
	if err != nil {
		exitError("%v", err)
	}
	if len(ops) == 0 {
		exitError("no operations in %s", commitFile)
	}

	author := commitAuthor
	if author == "" {
		author = c.Config.Author
	}

	sess := core.NewSession(c.coordinator(), c.Schema, commitBranch)
	sess.Add(ops...)
	out, err := sess.Commit(ctx, author, commitMessage)
	if err != nil {
		printCommitError(err)
		os.Exit(1)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("[%s %s] %s\n", commitBranch, out.Commit.ShortID(), out.Commit.Comment)
	fmt.Printf(" %d added, %d changed, %d removed\n", len(out.Commit.Added), len(out.Commit.Changed), len(out.Commit.Removed))
	if out.Attempts > 1 {
		yellow.Printf(" committed after %d attempts\n", out.Attempts)
	}
	for _, v := range out.Violations {
		yellow.Printf(" warning: %s\n", v.Message)
	}
}

// readOperations decodes an edit file. JSON input is accepted as YAML.
func readOperations(path string) ([]models.Operation, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read edit file: %w", err)
	}
	return parseOperations(data)
}

func parseOperations(data []byte) ([]models.Operation, error) {
	var ops []models.Operation
	if err := yaml.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("failed to parse edit file: %w", err)
	}
	for i, op := range ops {
		if op.Type == "" {
			return nil, fmt.Errorf("operation %d: missing op", i)
		}
	}
	return ops, nil
}

func printCommitError(err error) {
	red := color.New(color.FgRed, color.Bold)

	var integrity *core.IntegrityError
	if errors.As(err, &integrity) {
		red.Println("Commit rejected: the change set is incomplete")
		for _, v := range integrity.Violations {
			fmt.Printf("  %s\n", v.Message)
		}
		return
	}

	var exhausted *core.RetryExhaustedError
	if errors.As(err, &exhausted) {
		red.Printf("Commit failed after %d attempts: branch is busy\n", exhausted.Attempts)
		return
	}

	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}
