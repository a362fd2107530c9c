package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/subscription"
)

// ─── sweep ──────────────────────────────────────────────────────────────────

func newSweepCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete groups inactive for longer than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(v, cmd, false, func(a *app) error {
				res, err := a.engine.Sweep(cmd.Context())
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

// ─── sync ───────────────────────────────────────────────────────────────────

func newSyncCommand(v *viper.Viper) *cobra.Command {
	var renewsAt string

	cmd := &cobra.Command{
		Use:   "sync USER_ID STATUS",
		Short: "Apply a subscription status to every group a user owns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var renewal *time.Time
			if renewsAt != "" {
				t, err := time.Parse(time.RFC3339, renewsAt)
				if err != nil {
					return fmt.Errorf("--renews-at: %w", err)
				}
				renewal = &t
			}
			return withApp(v, cmd, false, func(a *app) error {
				res, err := a.engine.SyncSubscription(cmd.Context(), args[0], subscription.Normalize(args[1]), renewal)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&renewsAt, "renews-at", "", "next renewal date (RFC 3339)")
	return cmd
}

// ─── migrate ────────────────────────────────────────────────────────────────

func newMigrateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(v, cmd, false, func(a *app) error {
				if err := a.engine.Store().Migrate(cmd.Context()); err != nil {
					return err
				}
				a.logger.Info("store migrated", "driver", a.cfg.Driver)
				return nil
			})
		},
	}
}

// ─── account ────────────────────────────────────────────────────────────────

func newAccountCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage credit accounts",
	}

	var (
		balance   int64
		mode      string
		threshold int64
		bundle    string
	)
	policy := func() *credit.Replenishment {
		if mode == "" {
			return nil
		}
		return &credit.Replenishment{Mode: credit.Mode(mode), Threshold: threshold, BundleID: bundle}
	}

	open := &cobra.Command{
		Use:   "open USER_ID",
		Short: "Open a credit account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := id.ParseUserID(args[0])
			if err != nil {
				return err
			}
			return withApp(v, cmd, false, func(a *app) error {
				acct, err := a.engine.OpenAccount(cmd.Context(), userID, balance, policy())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acct)
			})
		},
	}
	open.Flags().Int64Var(&balance, "balance", 0, "opening balance")

	setPolicy := &cobra.Command{
		Use:   "policy USER_ID",
		Short: "Set or clear the low-balance replenishment policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := id.ParseUserID(args[0])
			if err != nil {
				return err
			}
			return withApp(v, cmd, false, func(a *app) error {
				return a.engine.SetReplenishment(cmd.Context(), userID, policy())
			})
		},
	}

	for _, c := range []*cobra.Command{open, setPolicy} {
		c.Flags().StringVar(&mode, "mode", "", "replenishment mode: auto or reminder")
		c.Flags().Int64Var(&threshold, "threshold", 0, "balance at or below which the policy fires")
		c.Flags().StringVar(&bundle, "bundle", "", "bundle bought by automatic top-ups")
	}

	show := &cobra.Command{
		Use:   "show USER_ID",
		Short: "Print an account and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := id.ParseUserID(args[0])
			if err != nil {
				return err
			}
			return withApp(v, cmd, false, func(a *app) error {
				acct, err := a.engine.Account(cmd.Context(), userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acct)
			})
		},
	}

	cmd.AddCommand(open, setPolicy, show)
	return cmd
}

// ─── group ──────────────────────────────────────────────────────────────────

func newGroupCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups",
	}

	var (
		name       string
		status     string
		organizers []string
	)
	create := &cobra.Command{
		Use:   "create OWNER_ID",
		Short: "Create a group owned by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := id.ParseUserID(args[0])
			if err != nil {
				return err
			}
			g := &group.Group{
				Name:         name,
				OwnerID:      owner,
				Subscription: subscription.State{Status: subscription.Normalize(status)},
			}
			for _, raw := range organizers {
				uid, err := id.ParseUserID(raw)
				if err != nil {
					return fmt.Errorf("--organizer %s: %w", raw, err)
				}
				g.OrganizerIDs = append(g.OrganizerIDs, uid)
			}
			return withApp(v, cmd, false, func(a *app) error {
				if err := a.engine.CreateGroup(cmd.Context(), g); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), g)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "group name")
	create.Flags().StringVar(&status, "status", string(subscription.StatusActive), "owner subscription status")
	create.Flags().StringSliceVar(&organizers, "organizer", nil, "user allowed to publish (repeatable)")

	show := &cobra.Command{
		Use:   "show GROUP_ID",
		Short: "Print a group and its subscription state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, err := id.ParseGroupID(args[0])
			if err != nil {
				return err
			}
			return withApp(v, cmd, false, func(a *app) error {
				g, err := a.engine.Group(cmd.Context(), groupID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), g)
			})
		},
	}

	cmd.AddCommand(create, show)
	return cmd
}
