package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hakosync/hakosync/internal/credentials"
	"github.com/hakosync/hakosync/internal/models"
)

// credsCmd groups credential management subcommands
var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Manage stored platform credentials",
	Long: `Import, inspect and delete the credential bundle for the configured
group.

The bundle is exported from an authenticated browser session as a JSON
file holding the access token, the refresh token and/or the session
cookies. hakosync refreshes the access token automatically; only when
the platform invalidates the whole session does a fresh export become
necessary.`,
}

var credsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a credential bundle from an exported JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredsImport,
}

var credsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored credential bundle (tokens redacted)",
	RunE:  runCredsShow,
}

var credsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the stored credential bundle",
	RunE:  runCredsDelete,
}

func init() {
	credsCmd.AddCommand(credsImportCmd)
	credsCmd.AddCommand(credsShowCmd)
	credsCmd.AddCommand(credsDeleteCmd)
	RootCmd.AddCommand(credsCmd)
}

func openCredStore(cmd *cobra.Command) (*credentials.FileStore, models.Group, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	group, err := models.ParseGroup(cfg.Group)
	if err != nil {
		return nil, "", err
	}
	store, err := credentials.NewFileStore(cfg.Storage.CredentialsPath)
	if err != nil {
		return nil, "", err
	}
	return store, group, nil
}

func runCredsImport(cmd *cobra.Command, args []string) error {
	store, group, err := openCredStore(cmd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read bundle file: %w", err)
	}

	var bundle credentials.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("parse bundle file: %w", err)
	}
	if bundle.IssuedAt.IsZero() {
		bundle.IssuedAt = time.Now().UTC()
	}
	if err := bundle.Validate(); err != nil {
		return err
	}
	if !bundle.CanRefresh() {
		fmt.Println("warning: bundle has no refresh token or cookies, it cannot outlive the access token")
	}

	if err := store.Save(string(group), &bundle); err != nil {
		return err
	}

	fmt.Printf("credentials for %s imported to %s\n", group, store.Path())
	return nil
}

func runCredsShow(cmd *cobra.Command, args []string) error {
	store, group, err := openCredStore(cmd)
	if err != nil {
		return err
	}

	bundle, err := store.Load(string(group))
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		redacted := *bundle
		redacted.AccessToken = redact(bundle.AccessToken)
		redacted.RefreshToken = redact(bundle.RefreshToken)
		redacted.Cookies = nil
		out, err := json.MarshalIndent(&redacted, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("group:         %s\n", group)
	fmt.Printf("subject:       %s\n", bundle.SubjectID)
	fmt.Printf("access token:  %s\n", redact(bundle.AccessToken))
	fmt.Printf("refresh token: %s\n", redact(bundle.RefreshToken))
	fmt.Printf("cookies:       %d\n", len(bundle.Cookies))
	fmt.Printf("issued at:     %s\n", bundle.IssuedAt.Format(time.RFC3339))
	return nil
}

func runCredsDelete(cmd *cobra.Command, args []string) error {
	store, group, err := openCredStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Delete(string(group)); err != nil {
		return err
	}
	fmt.Printf("credentials for %s deleted\n", group)
	return nil
}

func redact(token string) string {
	if token == "" {
		return "(none)"
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", 8) + token[len(token)-4:]
}
