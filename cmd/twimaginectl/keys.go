package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/twimagine/internal/api/middleware"
	"github.com/kiranshivaraju/twimagine/internal/store"
	"github.com/kiranshivaraju/twimagine/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "tw_"

var validScopes = map[string]bool{
	models.ScopeRead:  true,
	models.ScopeAdmin: true,
}

func keysCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage operator API keys",
	}
	cmd.AddCommand(keysCreateCmd(a), keysListCmd(a), keysRevokeCmd(a))
	return cmd
}

func keysCreateCmd(a *app) *cobra.Command {
	var scopes []string

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create an API key and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range scopes {
				if !validScopes[s] {
					return fmt.Errorf("unknown scope %q, want read or admin", s)
				}
			}

			raw, err := generateKey()
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}

			now := time.Now().UTC()
			key := &models.APIKey{
				ID:        uuid.New(),
				Name:      args[0],
				KeyHash:   string(hash),
				KeyPrefix: raw[:mw.KeyPrefixLen],
				Scopes:    scopes,
				CreatedAt: now,
				UpdatedAt: now,
			}

			return a.withStore(cmd.Context(), func(s ctlStore) error {
				if err := s.CreateAPIKey(cmd.Context(), key); err != nil {
					return fmt.Errorf("create key: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:     %s\n", key.ID)
				fmt.Fprintf(out, "scopes: %s\n", strings.Join(key.Scopes, ","))
				fmt.Fprintf(out, "key:    %s\n", raw)
				fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&scopes, "scope", "s", []string{models.ScopeRead}, "scopes to grant (read, admin)")
	return cmd
}

func keysListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s ctlStore) error {
				keys, err := s.ListAPIKeys(cmd.Context())
				if err != nil {
					return fmt.Errorf("list keys: %w", err)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
				for _, k := range keys {
					lastUsed := "never"
					if k.LastUsedAt != nil {
						lastUsed = k.LastUsedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
				}
				return tw.Flush()
			})
		},
	}
}

func keysRevokeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [id]",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("key id must be a UUID: %w", err)
			}
			return a.withStore(cmd.Context(), func(s ctlStore) error {
				err := s.RevokeAPIKey(cmd.Context(), id)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("key %s not found or already revoked", id)
				}
				if err != nil {
					return fmt.Errorf("revoke key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", id)
				return nil
			})
		},
	}
}

// generateKey returns "tw_" followed by 32 random hex characters.
func generateKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}
