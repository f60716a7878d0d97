package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/harrisonrobin/obs-sync/pkg/model"
	"github.com/harrisonrobin/obs-sync/pkg/obsidian"
	"github.com/harrisonrobin/obs-sync/pkg/reminders"
	"github.com/harrisonrobin/obs-sync/pkg/sync"
)

func dedupCmd() *cobra.Command {
	var (
		vaultName string
		apply     bool
		autoApply bool
	)

	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Find duplicate tasks and choose which to keep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			vault, err := selectVault(cfg, vaultName)
			if err != nil {
				return err
			}

			obsMgr := obsidian.NewManager(vault.VaultID, vault.Path, cfg.ObsidianInboxPath)
			obsTasks, err := obsMgr.ListTasks()
			if err != nil {
				return fmt.Errorf("list obsidian tasks: %w", err)
			}

			ctx := context.Background()
			gateway := reminders.NewGateway(reminders.NewClient())
			var remTasks []model.RemindersTask
			if listIDs := cfg.QueryListIDs(vault.VaultID); len(listIDs) > 0 {
				remTasks, err = gateway.ListReminders(ctx, listIDs)
				if err != nil {
					return fmt.Errorf("list reminders: %w", err)
				}
			}

			store := sync.NewLinkStore(expandHome(cfg.LinksPath))
			if err := store.Load(); err != nil {
				return fmt.Errorf("load links: %w", err)
			}
			linkedObs := make(map[string]bool)
			linkedRem := make(map[string]bool)
			for _, l := range store.Links() {
				linkedObs[l.ObsID] = true
				linkedRem[l.RemID] = true
			}

			dedup := sync.NewDeduplicator()
			clusters := append(
				dedup.ObsidianClusters(obsTasks, linkedObs),
				dedup.RemindersClusters(remTasks, linkedRem)...,
			)
			if len(clusters) == 0 {
				fmt.Println("no duplicates found")
				return nil
			}

			decisions := make(map[string][]string)
			if autoApply || cfg.DedupAutoApply {
				for _, c := range clusters {
					decisions[c.ClusterID] = []string{c.Members[0].UUID}
				}
			} else {
				decisions, err = promptDisposition(clusters)
				if err != nil {
					return err
				}
			}

			ops := sync.DispositionOps(clusters, decisions, obsTasks, remTasks)
			if len(ops) == 0 {
				fmt.Println("nothing to delete")
				return nil
			}
			if !apply {
				for _, op := range ops {
					fmt.Println(renderOp(op))
				}
				fmt.Println("dry-run; pass --apply to delete")
				return nil
			}

			failed := 0
			for _, op := range ops {
				var err error
				if op.Kind == sync.OpDeleteObs {
					err = obsMgr.DeleteTask(op.Obs)
				} else {
					err = gateway.DeleteReminder(ctx, op.Rem.ItemID)
				}
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %v\n", op.ID, err)
					continue
				}
				fmt.Printf("deleted %s\n", op.ID)
			}
			if failed > 0 {
				os.Exit(exitPartial)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultName, "vault", "", "vault name (default: the configured default vault)")
	cmd.Flags().BoolVar(&apply, "apply", false, "delete the non-kept members (default is dry-run)")
	cmd.Flags().BoolVar(&autoApply, "dedup-auto-apply", false, "keep the first member of each cluster without prompting")

	return cmd
}

// promptDisposition asks, cluster by cluster, which members to keep.
// Skipping a cluster (selecting every member) leaves it untouched.
func promptDisposition(clusters []sync.DuplicateCluster) (map[string][]string, error) {
	decisions := make(map[string][]string)

	for _, c := range clusters {
		options := make([]huh.Option[string], 0, len(c.Members))
		for _, m := range c.Members {
			label := m.Location
			if m.Position != "" {
				label += ", " + m.Position
			}
			if m.Due != "" {
				label += ", due " + m.Due
			}
			label += ", " + string(m.Status)
			options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", m.UUID, label), m.UUID))
		}

		kept := make([]string, 0, len(c.Members))
		form := huh.NewForm(huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title(fmt.Sprintf("duplicate: %q", c.Description)).
				Description("select the members to KEEP; the rest will be deleted").
				Options(options...).
				Value(&kept),
		))
		if err := form.Run(); err != nil {
			return nil, err
		}
		if len(kept) == 0 || len(kept) == len(c.Members) {
			continue
		}
		decisions[c.ClusterID] = kept
	}
	return decisions, nil
}
