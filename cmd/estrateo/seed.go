package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/estrateo/estrateo/internal/app/runtime"
	"github.com/estrateo/estrateo/internal/config"
	"github.com/estrateo/estrateo/pkg/logger"
)

var seedInput = runtime.SeedInput{}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a demo restaurant with staff, payments and stock",
	RunE:  runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.StringVar(&seedInput.RestaurantName, "name", "Casa Demo", "restaurant name")
	f.StringVar(&seedInput.Email, "email", "demo@estrateo.local", "owner email")
	f.StringVar(&seedInput.Password, "password", "demo-password", "owner password")
	f.StringVar(&seedInput.Timezone, "timezone", "Europe/Madrid", "restaurant timezone")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging)
	if cfg.Database.Driver == "memory" {
		log.Warn("seeding the memory driver only lasts for this process")
	}

	application, err := runtime.Build(cfg, log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	defer application.Shutdown(context.Background())

	report, err := runtime.Seed(ctx, application.App(), seedInput, time.Now())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "restaurant: %s (%s)\n", report.Session.Restaurant.Name, report.Session.Restaurant.ID)
	fmt.Fprintf(out, "owner:      %s\n", report.Session.User.Email)
	fmt.Fprintf(out, "created:    %d employees, %d payments, %d inventory items\n", report.Employees, report.Payments, report.Items)
	fmt.Fprintf(out, "token:      %s\n", report.Session.Token)
	return nil
}
