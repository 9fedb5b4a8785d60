package cmd

import (
	"context"
	"fmt"

	"github.com/emrgen/tabular/internal/cache"
	"github.com/emrgen/tabular/internal/config"
	"github.com/emrgen/tabular/internal/service"
	"github.com/emrgen/tabular/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var fieldCmd = &cobra.Command{
	Use:   "field",
	Short: "field commands",
}

func init() {
	fieldCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	fieldCmd.AddCommand(listFieldsCmd())
	fieldCmd.AddCommand(deleteFieldCmd())
	fieldCmd.AddCommand(analyzeFieldCmd())
}

func fieldService() *service.FieldService {
	cfg := config.LoadConfig()
	gormStore := store.NewGormStore(config.GetDb(cfg))

	var opts []service.Option
	if cfg.RedisAddr != "" {
		kv, err := cache.NewRedis(cfg.RedisAddr)
		if err != nil {
			logrus.Warnf("redis unavailable, running without cache: %v", err)
		} else {
			opts = append(opts, service.WithCache(kv))
		}
	}
	return service.NewFieldService(gormStore, opts...)
}

func listFieldsCmd() *cobra.Command {
	var tableID string

	command := &cobra.Command{
		Use:     "list",
		Short:   "list the fields of a table",
		Example: "tabular field list -t <table-id>",
		Run: func(cmd *cobra.Command, args []string) {
			if tableID == "" {
				logrus.Error("missing required flag: table-id")
				return
			}

			fields, err := fieldService().ListFields(context.Background(), tableID)
			if err != nil {
				logrus.Error(err)
				return
			}
			for _, field := range fields {
				marker := " "
				if field.HasError {
					marker = "!"
				}
				fmt.Printf("%s %s  %-24s %-14s %s\n", marker, field.ID, field.Name, field.Type, field.DBFieldName)
			}
		},
	}

	command.Flags().StringVarP(&tableID, "table-id", "t", "", "table id (required)")
	return command
}

func deleteFieldCmd() *cobra.Command {
	var tableID string
	var fieldID string

	command := &cobra.Command{
		Use:     "delete",
		Short:   "delete a field and its symmetric pair",
		Example: "tabular field delete -t <table-id> -f <field-id>",
		Run: func(cmd *cobra.Command, args []string) {
			if tableID == "" || fieldID == "" {
				logrus.Error("missing required flags: table-id, field-id")
				return
			}

			gormStore := store.NewGormStore(config.GetDb(config.LoadConfig()))

			var deleted []service.FieldRef
			err := gormStore.Transaction(context.Background(), func(tx store.Store) error {
				var err error
				deleted, err = service.NewFieldService(tx).AlterDeleteField(context.Background(), tableID, fieldID)
				return err
			})
			if err != nil {
				logrus.Error(err)
				return
			}
			for _, ref := range deleted {
				logrus.Infof("deleted field %s on table %s", ref.FieldID, ref.TableID)
			}
		},
	}

	command.Flags().StringVarP(&tableID, "table-id", "t", "", "table id (required)")
	command.Flags().StringVarP(&fieldID, "field-id", "f", "", "field id (required)")
	return command
}

func analyzeFieldCmd() *cobra.Command {
	var fieldID string

	command := &cobra.Command{
		Use:     "analyze",
		Short:   "show the fields whose values depend on a field",
		Example: "tabular field analyze -f <field-id>",
		Run: func(cmd *cobra.Command, args []string) {
			if fieldID == "" {
				logrus.Error("missing required flag: field-id")
				return
			}

			dependents, err := fieldService().AnalyzeReference(context.Background(), fieldID)
			if err != nil {
				logrus.Error(err)
				return
			}
			if len(dependents) == 0 {
				logrus.Infof("no dependent fields")
				return
			}
			for _, id := range dependents {
				fmt.Println(id)
			}
		},
	}

	command.Flags().StringVarP(&fieldID, "field-id", "f", "", "field id (required)")
	return command
}
