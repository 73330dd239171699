package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/order-lifecycle/internal/db"
	"github.com/vasiliy-maslov/order-lifecycle/internal/handler"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
	"gopkg.in/yaml.v3"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return db.Migrate(a.cfg.Postgres)
		},
	}
}

func sweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Cancel expired unpaid orders once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			stopMetrics, err := startMetrics(a.cfg)
			if err != nil {
				return err
			}
			defer stopMetrics()

			ctx := cmd.Context()
			c, err := newCore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			c.channel.Start(ctx)
			c.waitConnected(ctx, 5*time.Second)

			sweeper := order.NewSweeper(c.orderRepo, c.orders, a.cfg.Sweeper.Interval, a.cfg.Sweeper.Deadline,
				order.WithSweeperMeter(c.meter))
			res, err := sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d cancelled=%d skipped=%d failed=%d\n",
				res.Scanned, res.Cancelled, res.Skipped, res.Failed)
			return nil
		},
	}
}

func resetOrdersCmd(a *app) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset-orders",
		Short: "Delete every order and its messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to delete all orders without --yes")
			}
			ctx := cmd.Context()
			c, err := newCore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			deleted, err := c.orders.ResetAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d orders\n", deleted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the deletion")
	return cmd
}

func seedSettingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-settings [file.yaml]",
		Short: "Store settings from a YAML map of key: value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := readSettingsFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c, err := newCore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.settings.SetMany(ctx, values); err != nil {
				return err
			}
			log.Info().Int("count", len(values)).Str("file", args[0]).Msg("settings seeded")
			return nil
		},
	}
}

func readSettingsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s contains no settings", path)
	}
	return values, nil
}

func issueTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a bearer token for local testing and operator access",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != handler.RoleAdmin && role != handler.RoleCustomer {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := handler.NewAuthenticator(a.cfg.Auth.JWTSecret).Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject, a customer id for customer tokens")
	cmd.Flags().StringVar(&role, "role", handler.RoleAdmin, "admin or customer")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
