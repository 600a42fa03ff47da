package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pbaille/postkeep/internal/apiclient"
	"github.com/pbaille/postkeep/internal/config"
	"github.com/pbaille/postkeep/internal/domain"
	"github.com/pbaille/postkeep/internal/enrich"
	"github.com/pbaille/postkeep/internal/logging"
)

var (
	cfgPath   string
	dbFlag    string
	apiFlag   string
	tokenFlag string
	logLevel  string

	cfg config.Config
	log *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "postkeep",
		Short:         "Capture posts from the feed and keep them, tagged and searchable",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			if dbFlag != "" {
				cfg.DBPath = dbFlag
			}
			if apiFlag != "" {
				cfg.APIURL = apiFlag
			}
			if tokenFlag != "" {
				cfg.Token = tokenFlag
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			log, err = logging.New(cfg.LogLevel, cfg.LogJSON)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.postkeep/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "database path")
	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "persistence API base URL")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "bearer token for the API")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(settingsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newClient() *apiclient.Client {
	return apiclient.New(cfg.APIURL, cfg.Token, 30*time.Second)
}

// newEnricher builds the enrichment client. A provider that cannot be
// configured leaves the rule-based fallback in charge.
func newEnricher() *enrich.Client {
	p, err := enrich.NewProvider(cfg.Provider())
	if err != nil {
		log.Warn("enrichment provider unavailable, using rule-based tagging", zap.Error(err))
		return enrich.NewClient(nil, log)
	}
	return enrich.NewClient(p, log)
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveID expands an id prefix by scanning the owner's posts
func resolveID(ctx context.Context, c *apiclient.Client, prefix string) (string, error) {
	if len(prefix) >= 36 {
		return prefix, nil
	}
	for p := 1; ; p++ {
		page, err := c.ListPosts(ctx, domain.SearchFilter{Page: p, Limit: 100})
		if err != nil {
			return "", err
		}
		for _, post := range page.Posts {
			if strings.HasPrefix(post.ID, prefix) {
				return post.ID, nil
			}
		}
		if p >= page.TotalPages {
			return "", fmt.Errorf("post not found: %s", prefix)
		}
	}
}

func printPost(p domain.SavedPost) {
	fmt.Printf("%s  %-20s  %s\n", shortID(p.ID), truncate(p.AuthorName, 20), truncate(p.BodyText, 60))
}
