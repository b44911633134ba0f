package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"
)

// @title Web Map API
// @version 1.0
// @description Publishes request payloads as shared web map items on a GIS portal.
// @BasePath /
func main() {
	c := &cobra.Command{
		Use:     "webmapapi",
		Short:   "Publish map payloads to a GIS portal",
		Version: fmt.Sprintf("%s - build %.7s @ %s", version, revision, date),
		Args:    cobra.NoArgs,
	}
	c.AddCommand(serveCmd)
	c.AddCommand(migrateCmd)

	if err := c.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (migrates the schema first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context())
		},
	}
)
