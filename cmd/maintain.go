package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/emrgen/tabular/internal/config"
	"github.com/emrgen/tabular/internal/job"
	"github.com/emrgen/tabular/internal/jobs"
	"github.com/emrgen/tabular/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func maintainCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "maintain",
		Short: "run the periodic reference integrity sweep",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.LoadConfig()
			gormStore := store.NewGormStore(config.GetDb(cfg))

			executor := jobs.NewTaskExecutor([]jobs.CronJob{
				job.NewIntegrityChecker(gormStore, cfg.MaintainSchedule),
			})
			executor.Run()
			logrus.Infof("integrity sweep scheduled at %q", cfg.MaintainSchedule)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			executor.Stop()
		},
	}

	return command
}
