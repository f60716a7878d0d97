package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/obs-sync/pkg/lock"
	"github.com/harrisonrobin/obs-sync/pkg/model"
	"github.com/harrisonrobin/obs-sync/pkg/obsidian"
	"github.com/harrisonrobin/obs-sync/pkg/reminders"
	"github.com/harrisonrobin/obs-sync/pkg/sync"
)

func syncCmd() *cobra.Command {
	var (
		apply          bool
		direction      string
		vaultName      string
		noDedup        bool
		dedupAutoApply bool
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass (dry-run unless --apply)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			vault, err := selectVault(cfg, vaultName)
			if err != nil {
				return err
			}

			dir := sync.Direction(direction)
			switch dir {
			case sync.DirBoth, sync.DirObsToRem, sync.DirRemToObs:
			default:
				return fmt.Errorf("invalid --direction %q (want both, obs-to-rem, or rem-to-obs)", direction)
			}

			linksPath := expandHome(cfg.LinksPath)
			if err := os.MkdirAll(filepath.Dir(linksPath), 0o700); err != nil {
				return fmt.Errorf("prepare links directory: %w", err)
			}

			// The lock lives on a sidecar path rather than the link file
			// itself: Save replaces the link file's inode via rename,
			// which would silently release a lock held on the old inode.
			fl := lock.NewFileLock(linksPath + ".lock")
			if err := fl.TryLock(); err != nil {
				if errors.Is(err, lock.ErrBusy) {
					return model.NewSyncError(model.KindBusyLock,
						fmt.Errorf("another sync is already running for %s", linksPath))
				}
				return err
			}
			defer fl.Unlock()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			obsMgr := obsidian.NewManager(vault.VaultID, vault.Path, cfg.ObsidianInboxPath)
			gateway := reminders.NewGateway(reminders.NewClient())
			engine := sync.NewEngine(cfg, obsMgr, gateway, sync.NewLinkStore(linksPath), nil)

			report, runErr := engine.Run(ctx, vault.VaultID, sync.Options{
				Apply:          apply,
				Direction:      dir,
				NoDedup:        noDedup,
				DedupAutoApply: dedupAutoApply,
			})
			if report != nil {
				fmt.Print(renderReport(report, verbose))
			}
			if runErr != nil {
				return runErr
			}
			if report.PartialApply {
				os.Exit(exitPartial)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "apply the plan (default is dry-run)")
	cmd.Flags().StringVar(&direction, "direction", "both", "sync direction: both, obs-to-rem, or rem-to-obs")
	cmd.Flags().StringVar(&vaultName, "vault", "", "vault name (default: the configured default vault)")
	cmd.Flags().BoolVar(&noDedup, "no-dedup", false, "skip duplicate detection")
	cmd.Flags().BoolVar(&dedupAutoApply, "dedup-auto-apply", false, "auto-resolve duplicate clusters, keeping one member each")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every planned operation")

	return cmd
}

func selectVault(cfg *model.Config, name string) (*model.Vault, error) {
	if name != "" {
		v := cfg.VaultByName(name)
		if v == nil {
			return nil, model.NewSyncError(model.KindConfigurationError,
				fmt.Errorf("no configured vault named %q", name))
		}
		return v, nil
	}
	v := cfg.DefaultVault()
	if v == nil {
		return nil, model.NewSyncError(model.KindConfigurationError,
			fmt.Errorf("no vaults configured; edit the config file first"))
	}
	return v, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
