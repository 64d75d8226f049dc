package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/tajhlande/listen-to-wiki-changes/internal/adapter/redis"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog [hostname...]",
	Short: "Fetch the wiki listing and resolve hostnames against it",
	Long: `Fetches the wiki listing (bypassing the Redis snapshot cache), prints
summary counts and resolves every hostname argument to its wiki code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setupConfig()
		if err != nil {
			return err
		}

		cat, err := loadCatalog(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rows:      %d\n", cat.Rows())
		fmt.Fprintf(out, "wikis:     %d\n", cat.Len())
		fmt.Fprintf(out, "types:     %d\n", len(cat.Types()))
		fmt.Fprintf(out, "languages: %d\n", len(cat.Languages()))

		for _, host := range args {
			code, ok := cat.LookupByHostname(host)
			if !ok {
				fmt.Fprintf(out, "%s\t(unknown)\n", host)
				continue
			}
			meta, _ := cat.Metadata(code)
			fmt.Fprintf(out, "%s\t%s\t%s\n", host, code, meta.DisplayName)
		}
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the Redis wiki listing cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the cached wiki listing so the next start refetches it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setupConfig()
		if err != nil {
			return err
		}
		redisURL, _ := cmd.Flags().GetString("redis")
		if redisURL == "" {
			redisURL = cfg.RedisURL
		}
		if redisURL == "" {
			return fmt.Errorf("redis URL required (--redis or REDIS_URL env)")
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		key, _ := cmd.Flags().GetString("key")

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		rdb, err := redis.NewClient(ctx, redisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		slog.Info("Connected to Redis", "url", sanitizeURL(redisURL))

		n, err := rdb.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("inspect %s: %w", key, err)
		}
		if n == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s not cached\n", key)
			return nil
		}
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "would delete %s\n", key)
			return nil
		}

		if err := redis.NewCatalogCache(rdb, key, nil).Invalidate(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().String("redis", "", "Redis URL (defaults to REDIS_URL)")
	cacheClearCmd.Flags().String("key", redis.DefaultCatalogKey, "Cache key holding the wiki listing")
	cacheClearCmd.Flags().Bool("dry-run", false, "Report what would be deleted without deleting")
	cacheCmd.AddCommand(cacheClearCmd)
}

// sanitizeURL hides the password of a Redis URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
