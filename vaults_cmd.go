package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/obs-sync/pkg/model"
)

func vaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vaults",
		Short: "List configured vaults and their routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if len(cfg.Vaults) == 0 {
				fmt.Println("no vaults configured")
				return nil
			}

			listNames := make(map[string]string, len(cfg.RemindersLists))
			for _, l := range cfg.RemindersLists {
				listNames[l.Identifier] = l.Name
			}
			name := func(id string) string {
				if n, ok := listNames[id]; ok {
					return fmt.Sprintf("%s (%s)", n, id)
				}
				return id
			}

			for _, v := range cfg.Vaults {
				marker := ""
				if v.IsDefault || v.VaultID == cfg.DefaultVaultID {
					marker = " (default)"
				}
				fmt.Printf("%s%s\n  path: %s\n", v.Name, marker, v.Path)
				if m := cfg.VaultMappingFor(v.VaultID); m != nil {
					fmt.Printf("  default list: %s\n", name(m.DefaultListID))
				}
				for _, r := range cfg.TagRoutesForVault(v.VaultID) {
					fmt.Printf("  route: %s -> %s\n", r.Tag, name(r.ListID))
				}
			}
			return nil
		},
	}
}
