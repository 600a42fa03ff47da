package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pbaille/postkeep/internal/api"
	"github.com/pbaille/postkeep/internal/auth"
	"github.com/pbaille/postkeep/internal/store"
)

func getStore() (*store.Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, eris.Wrap(err, "create db dir")
	}
	return store.New(cfg.DBPath)
}

func getSigner() (*auth.Signer, error) {
	if cfg.JWTSecret == "" {
		return nil, eris.New("no signing secret: set POSTKEEP_JWT_SECRET or jwt_secret in the config file")
	}
	return auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL)
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the persistence API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Addr = addr
			}
			signer, err := getSigner()
			if err != nil {
				return err
			}
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ec := newEnricher()
			log.Info("enrichment provider", zap.String("provider", ec.Provider()))

			server := api.New(s, signer, ec, api.Options{
				SavesPerMinute: cfg.Limits.SavesPerMinute,
				AIPerHour:      cfg.Limits.AIPerHour,
			}, log)
			return server.Run(cmd.Context(), cfg.Addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (default :8080)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		label string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token [owner]",
		Short: "Issue a bearer token for an owner",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl > 0 {
				cfg.TokenTTL = ttl
			}
			signer, err := getSigner()
			if err != nil {
				return err
			}

			owner := "local"
			if len(args) == 1 {
				owner = args[0]
			}
			if label == "" {
				if u, err := user.Current(); err == nil {
					label = u.Username
				}
			}

			token, err := signer.Issue(owner, label)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&label, "label", "l", "", "account label shown after saves")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 30 days)")
	return cmd
}
