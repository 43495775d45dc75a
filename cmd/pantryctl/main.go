// pantryctl is the operator CLI: index setup, external-session and
// artifact-cache maintenance, and token inspection. It reads the same
// environment as the daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/pantrylab/pantryd/internal/config"
	"github.com/pantrylab/pantryd/internal/infrastructure/artifactcache"
	"github.com/pantrylab/pantryd/internal/infrastructure/extsession"
	"github.com/pantrylab/pantryd/internal/infrastructure/mongodb"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
	"github.com/pantrylab/pantryd/internal/logger"
)

const tokenIssuer = "pantryd"

var cfg *config.Config

func main() {
	root := &cobra.Command{
		Use:           "pantryctl",
		Short:         "Operate a pantryd deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnv()
			c, err := config.Load()
			if err != nil {
				return err
			}
			cfg = c
			logger.Init("warn", "console")
			return nil
		},
	}

	root.AddCommand(indexesCmd(), sessionsCmd(), cacheCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func indexesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Document store index management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the unique and TTL indexes if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := mongodb.NewManager(mongodb.ManagerConfig{
				URI:                    cfg.MongoURI,
				Database:               cfg.MongoDB,
				ConnectTimeout:         cfg.MongoConnectTimeout,
				ServerSelectionTimeout: cfg.MongoServerSelectionTimeout,
				SocketTimeout:          cfg.MongoSocketTimeout,
			}, nil)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			defer func() { _ = mgr.Disconnect(context.Background()) }()

			if err := mgr.EnsureConnected(ctx, 3); err != nil {
				return err
			}
			db, err := mgr.Database(ctx)
			if err != nil {
				return err
			}
			if err := mongodb.EnsureIndexes(ctx, db); err != nil {
				return err
			}
			fmt.Println("indexes ensured")
			return nil
		},
	})
	return cmd
}

func openSessionStore() (*extsession.Store, error) {
	return extsession.NewStore(filepath.Join(cfg.CacheDir, "sessions"), cfg.SessionTTL)
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "External storefront session maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored sessions with age and validity",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore()
			if err != nil {
				return err
			}
			all, err := store.ListAll()
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("no sessions")
				return nil
			}

			users := make([]string, 0, len(all))
			for u := range all {
				users = append(users, u)
			}
			sort.Strings(users)

			for _, u := range users {
				meta := all[u]
				state := "valid"
				if meta.Expired() {
					state = "expired"
				}
				fmt.Printf("%-30s %-8s created %s  last used %s\n",
					u, state,
					meta.CreatedAt.Format(time.RFC3339),
					meta.LastUsedAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore()
			if err != nil {
				return err
			}
			n, err := store.CleanupExpired()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired session(s)\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <user>",
		Short: "Delete one user's session state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore()
			if err != nil {
				return err
			}
			removed, err := store.Clear(args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Printf("no session for %s\n", args[0])
				return nil
			}
			fmt.Printf("cleared session for %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func openArtifactCache() (*artifactcache.Cache, error) {
	return artifactcache.New(filepath.Join(cfg.CacheDir, "artifacts"), cfg.CacheTTL)
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Artifact cache maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print cache entry counts and disk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openArtifactCache()
			if err != nil {
				return err
			}
			stats, err := cache.Stats()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openArtifactCache()
			if err != nil {
				return err
			}
			n, err := cache.CleanupExpired()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired entries\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate <user>",
		Short: "Mark one user's cached artifacts stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openArtifactCache()
			if err != nil {
				return err
			}
			n, err := cache.InvalidateForUser(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("invalidated %d entries for %s\n", n, args[0])
			return nil
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <token>",
		Short: "Decode a token's claims without verifying the signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := security.NewTokenService(
				cfg.TokenSigningSecret, tokenIssuer,
				cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.ResetTokenTTL,
			)
			if err != nil {
				return err
			}
			claims, err := tokens.DecodeUnchecked(args[0])
			if err != nil {
				return err
			}

			view := map[string]any{
				"user_id":    claims.UserID,
				"email":      claims.Email,
				"jti":        claims.JTI,
				"kind":       claims.Kind,
				"issued_at":  claims.IssuedAt.Format(time.RFC3339),
				"expires_at": claims.ExpiresAt.Format(time.RFC3339),
				"expired":    time.Now().After(claims.ExpiresAt),
			}
			out, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	return cmd
}
