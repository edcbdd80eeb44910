package cli

import (
	"fmt"
	"os"

	"github.com/kilupskalvis/revstore/internal/audit"
	"github.com/kilupskalvis/revstore/internal/config"
	"github.com/kilupskalvis/revstore/internal/schema"
	"github.com/kilupskalvis/revstore/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new revstore workspace",
	Long: `Initialize a new revstore workspace in the current directory.
This creates a .revstore directory holding the configuration, the revision
store and the audit log, and creates the MAIN branch.`,
	Run: runInit,
}

var (
	initAuthor    string
	initSchema    string
	initIntegrity string
)

func init() {
	initCmd.Flags().StringVar(&initAuthor, "author", "", "Default commit author")
	initCmd.Flags().StringVar(&initSchema, "schema", "", "Path to a YAML component schema (default: built-in SNOMED CT)")
	initCmd.Flags().StringVar(&initIntegrity, "integrity", config.IntegrityCollect, "Integrity checker mode (fail-fast, collect, collect-no-fail)")
}

func runInit(cmd *cobra.Command, args []string) {
	if _, err := config.FindRoot(); err == nil {
		exitError("revstore workspace already exists")
	}

	if initSchema != "" {
		if _, err := schema.Load(initSchema); err != nil {
			exitError("invalid schema: %v", err)
		}
	}

	cfg := config.Default()
	if initAuthor != "" {
		cfg.Author = initAuthor
	}
	cfg.SchemaPath = initSchema
	cfg.IntegrityMode = initIntegrity

	wd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}
	cfg, err = config.Initialize(wd, cfg)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to create store: %v", err)
	}
	defer st.Close()

	if err := st.Initialize(); err != nil {
		exitError("failed to initialize store: %v", err)
	}

	log, err := audit.Open(cfg.AuditPath())
	if err != nil {
		exitError("%v", err)
	}
	defer log.Close()

	if err := log.Initialize(); err != nil {
		exitError("failed to initialize audit log: %v", err)
	}

	fmt.Printf("Initialized empty revstore workspace in %s/\n", config.Dir)
	if initSchema != "" {
		fmt.Printf("Schema: %s\n", initSchema)
	} else {
		fmt.Println("Schema: built-in SNOMED CT")
	}
	fmt.Printf("Integrity mode: %s\n", cfg.IntegrityMode)
}
