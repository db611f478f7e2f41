package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pilab-dev/grantd/domain"
)

var (
	clientName         string
	clientType         string
	clientRedirectURIs []string
	clientScopes       []string
	clientGrantTypes   []string
	clientRequirePKCE  bool
	clientNoConsent    bool
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage registered OAuth2 clients",
}

var clientAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new OAuth2 client",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		_, clients, cleanup, err := connectStores(ctx)
		if err != nil {
			return err
		}
		defer cleanup(ctx)

		now := time.Now().UTC()
		client := &domain.Client{
			ID:                uuid.NewString(),
			Type:              domain.ClientType(clientType),
			Name:              clientName,
			RedirectURIs:      clientRedirectURIs,
			AllowedScopes:     clientScopes,
			AllowedGrantTypes: clientGrantTypes,
			RequireConsent:    !clientNoConsent,
			RequirePKCE:       clientRequirePKCE,
			IsActive:          true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		var secret string
		if client.Type == domain.ClientTypeConfidential {
			secret = uuid.NewString()
			if err := client.SetSecret(secret); err != nil {
				return fmt.Errorf("failed to hash client secret: %w", err)
			}
		}

		if err := clients.CreateClient(ctx, client); err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}

		fmt.Printf("client_id: %s\n", client.ID)
		if secret != "" {
			fmt.Printf("client_secret: %s (store it now, it is not retrievable later)\n", secret)
		}
		return nil
	},
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered OAuth2 clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		_, clients, cleanup, err := connectStores(ctx)
		if err != nil {
			return err
		}
		defer cleanup(ctx)

		all, err := clients.ListClients(ctx)
		if err != nil {
			return fmt.Errorf("failed to list clients: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	},
}

var clientDeleteCmd = &cobra.Command{
	Use:   "delete <client_id>",
	Short: "Delete a registered OAuth2 client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		_, clients, cleanup, err := connectStores(ctx)
		if err != nil {
			return err
		}
		defer cleanup(ctx)

		if err := clients.DeleteClient(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}

func init() {
	clientAddCmd.Flags().StringVar(&clientName, "name", "", "human readable client name")
	clientAddCmd.Flags().StringVar(&clientType, "type", string(domain.ClientTypeConfidential), "client type: confidential or public")
	clientAddCmd.Flags().StringSliceVar(&clientRedirectURIs, "redirect-uri", nil, "allowed redirect URI (repeatable)")
	clientAddCmd.Flags().StringSliceVar(&clientScopes, "scope", []string{"openid"}, "allowed scope (repeatable)")
	clientAddCmd.Flags().StringSliceVar(&clientGrantTypes, "grant-type", []string{"authorization_code", "refresh_token"}, "allowed grant type (repeatable)")
	clientAddCmd.Flags().BoolVar(&clientRequirePKCE, "require-pkce", false, "require PKCE on the authorization code flow")
	clientAddCmd.Flags().BoolVar(&clientNoConsent, "skip-consent", false, "skip the consent step for this client")
	_ = clientAddCmd.MarkFlagRequired("name")
	_ = clientAddCmd.MarkFlagRequired("redirect-uri")

	clientCmd.AddCommand(clientAddCmd, clientListCmd, clientDeleteCmd)
	rootCmd.AddCommand(clientCmd)
}
