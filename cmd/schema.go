package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kasuboski/watchstate/internal/storage"
)

// schemaCmd prints the DDL the Storage Adapter applies on Init, for
// operator inspection — no code generation step, since the core never
// touches storage through anything but internal/storage's own methods.
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "print the storage schema",
	Long:  `print the DDL the storage adapter applies when initializing its database`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(storage.Schema())
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
