package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/raphaelgruber/esisync/internal/auth"
	"github.com/spf13/cobra"
)

var (
	authRefreshToken string
	authScopes       []string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored character tokens",
}

var authImportCmd = &cobra.Command{
	Use:   "import <character-id>",
	Short: "Store a refresh token for a character",
	Long: `Store an SSO refresh token for a character. Corporation contracts and
structure names are fetched with the tracked character's token.

Examples:
  esisync auth import 90000001 --refresh-token abc123 \
    --scopes esi-contracts.read_corporation_contracts.v1,esi-universe.read_structures.v1`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthImport,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List characters with stored tokens",
	Args:  cobra.NoArgs,
	RunE:  runAuthList,
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <character-id>",
	Short: "Delete a character's stored token",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthRemove,
}

func init() {
	authImportCmd.Flags().StringVar(&authRefreshToken, "refresh-token", "", "SSO refresh token (required)")
	authImportCmd.Flags().StringSliceVar(&authScopes, "scopes", nil, "granted scopes")
	_ = authImportCmd.MarkFlagRequired("refresh-token")

	authCmd.AddCommand(authImportCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authRemoveCmd)
}

func parseCharacterID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid character id %q", arg)
	}
	return id, nil
}

func runAuthImport(cmd *cobra.Command, args []string) error {
	id, err := parseCharacterID(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := auth.OpenStore(ctx, cfg.TokenDB)
	if err != nil {
		return err
	}
	defer store.Close()

	m := auth.NewManager(store, auth.Config{
		ClientID:     cfg.SSOClientID,
		ClientSecret: cfg.SSOClientSecret,
		TokenURL:     cfg.SSOTokenURL,
	}, logger)
	if err := m.Import(ctx, id, strings.TrimSpace(authRefreshToken), authScopes); err != nil {
		return fmt.Errorf("import token: %w", err)
	}
	fmt.Println(defaultTheme.completedStyle().Render(fmt.Sprintf("✓ Stored token for character %d", id)))
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := auth.OpenStore(ctx, cfg.TokenDB)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	if len(tokens) == 0 {
		fmt.Println("No tokens stored")
		return nil
	}

	fmt.Printf("%-12s %-20s %s\n", "CHARACTER", "ACCESS EXPIRES", "SCOPES")
	for _, t := range tokens {
		expires := "-"
		if !t.ExpiresAt.IsZero() {
			expires = t.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-12d %-20s %s\n", t.CharacterID, expires, strings.Join(t.Scopes, ","))
	}
	return nil
}

func runAuthRemove(cmd *cobra.Command, args []string) error {
	id, err := parseCharacterID(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := auth.OpenStore(ctx, cfg.TokenDB)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.Get(ctx, id); err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			return fmt.Errorf("no token stored for character %d", id)
		}
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove token: %w", err)
	}
	fmt.Printf("Removed token for character %d\n", id)
	return nil
}
