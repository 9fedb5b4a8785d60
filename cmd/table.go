package cmd

import (
	"context"
	"fmt"

	"github.com/emrgen/tabular/internal/config"
	"github.com/emrgen/tabular/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "table commands",
}

func init() {
	tableCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	tableCmd.AddCommand(listTablesCmd())
}

func listTablesCmd() *cobra.Command {
	var baseID string

	command := &cobra.Command{
		Use:     "list",
		Short:   "list the tables of a base",
		Example: "tabular table list -b <base-id>",
		Run: func(cmd *cobra.Command, args []string) {
			if baseID == "" {
				logrus.Error("missing required flag: base-id")
				return
			}

			gormStore := store.NewGormStore(config.GetDb(config.LoadConfig()))
			tables, err := gormStore.ListTables(context.Background(), baseID)
			if err != nil {
				logrus.Error(err)
				return
			}
			for _, table := range tables {
				fmt.Printf("%s  %-24s %s\n", table.ID, table.Name, table.DBTableName)
			}
		},
	}

	command.Flags().StringVarP(&baseID, "base-id", "b", "", "base id (required)")
	return command
}
