package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/grantd"
)

var deviceSubjectID string

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage pending device authorizations",
}

var deviceApproveCmd = &cobra.Command{
	Use:   "approve <user_code>",
	Short: "Approve a pending device authorization on behalf of a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		grants, clients, cleanup, err := connectStores(ctx)
		if err != nil {
			return err
		}
		defer cleanup(ctx)

		provider := grantd.NewProvider(grantd.Options{
			Records: grants,
			Clients: clients,
			Logger:  appLogger,
		})
		if err := provider.DeviceFlow.Approve(ctx, args[0], deviceSubjectID); err != nil {
			return fmt.Errorf("failed to approve device authorization: %w", err)
		}
		fmt.Println("approved", args[0])
		return nil
	},
}

var deviceDenyCmd = &cobra.Command{
	Use:   "deny <user_code>",
	Short: "Deny a pending device authorization on behalf of a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		grants, clients, cleanup, err := connectStores(ctx)
		if err != nil {
			return err
		}
		defer cleanup(ctx)

		provider := grantd.NewProvider(grantd.Options{
			Records: grants,
			Clients: clients,
			Logger:  appLogger,
		})
		if err := provider.DeviceFlow.Deny(ctx, args[0], deviceSubjectID); err != nil {
			return fmt.Errorf("failed to deny device authorization: %w", err)
		}
		fmt.Println("denied", args[0])
		return nil
	},
}

func init() {
	deviceCmd.PersistentFlags().StringVar(&deviceSubjectID, "subject", "", "subject the decision is recorded for")
	_ = deviceCmd.MarkPersistentFlagRequired("subject")

	deviceCmd.AddCommand(deviceApproveCmd, deviceDenyCmd)
	rootCmd.AddCommand(deviceCmd)
}
