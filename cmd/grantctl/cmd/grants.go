package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/grantd/domain"
)

var (
	purgeSubjectID string
	purgeClientID  string
	purgeGrantType string
)

var grantsCmd = &cobra.Command{
	Use:   "grants",
	Short: "Manage persisted grants",
}

var grantsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove persisted grants matching a subject, client, or grant type",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if purgeSubjectID == "" && purgeClientID == "" && purgeGrantType == "" {
			return fmt.Errorf("refusing to purge everything: pass at least one of --subject, --client, --type")
		}

		grants, _, cleanup, err := connectStores(ctx)
		if err != nil {
			return err
		}
		defer cleanup(ctx)

		filter := domain.GrantFilter{
			SubjectID: purgeSubjectID,
			ClientID:  purgeClientID,
			Type:      domain.GrantType(purgeGrantType),
		}
		if err := grants.RemoveAll(ctx, filter); err != nil {
			return fmt.Errorf("failed to purge grants: %w", err)
		}
		fmt.Println("purged grants matching filter")
		return nil
	},
}

func init() {
	grantsPurgeCmd.Flags().StringVar(&purgeSubjectID, "subject", "", "subject identifier to match")
	grantsPurgeCmd.Flags().StringVar(&purgeClientID, "client", "", "client identifier to match")
	grantsPurgeCmd.Flags().StringVar(&purgeGrantType, "type", "", "grant type to match, e.g. refresh_token")

	grantsCmd.AddCommand(grantsPurgeCmd)
	rootCmd.AddCommand(grantsCmd)
}
