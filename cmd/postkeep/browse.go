package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pbaille/postkeep/internal/agent"
	"github.com/pbaille/postkeep/internal/background"
	"github.com/pbaille/postkeep/internal/browser"
	"github.com/pbaille/postkeep/internal/bus"
	"github.com/pbaille/postkeep/internal/control"
	"github.com/pbaille/postkeep/internal/media"
	"github.com/pbaille/postkeep/internal/protocol"
)

// session wires the three contexts around a browser
type session struct {
	bus     *bus.Bus
	orch    *background.Orchestrator
	service *background.Service
	popup   *control.Popup
	browser *browser.Browser
	agents  int
}

func newSession(ctx context.Context, headless bool) (*session, error) {
	b := bus.New(log)
	orch := background.NewOrchestrator(newClient(), newEnricher(), b, media.NewHTTPGetter(20*time.Second),
		background.DefaultConfig(), log)
	svc := background.NewService(orch, b, log)
	if _, err := svc.Register(ctx); err != nil {
		return nil, err
	}

	br, err := browser.Launch(browser.Options{
		Headless:   headless,
		ExecPath:   cfg.Browser.ExecPath,
		ProfileDir: cfg.Browser.ProfileDir,
		Coalesce:   cfg.Browser.Coalesce,
	}, log)
	if err != nil {
		return nil, err
	}
	return &session{bus: b, orch: orch, service: svc, popup: control.New(b, 0), browser: br}, nil
}

// open loads url in a new tab and starts its page agent
func (s *session) open(ctx context.Context, url string) (*agent.Agent, *browser.Tab, error) {
	tab, err := s.browser.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	s.agents++
	acfg := agent.DefaultConfig()
	acfg.InteractionTTL = cfg.Browser.InteractionTTL
	acfg.Debounce = cfg.Browser.Debounce

	a := agent.New(strconv.Itoa(s.agents), tab, tab, s.bus, acfg, log)
	if _, err := a.Register(ctx); err != nil {
		tab.Close()
		return nil, nil, err
	}
	return a, tab, nil
}

// close waits for background stages, then stops the browser
func (s *session) close() {
	s.orch.Wait()
	s.browser.Close()
}

func modeFlag(visible bool) protocol.Mode {
	if visible {
		return protocol.ModeVisible
	}
	return protocol.ModeAuto
}

func extractCmd() *cobra.Command {
	var (
		visible bool
		save    bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "extract [url]",
		Short: "Extract the active post of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cfg.Browser.Headless)
			if err != nil {
				return err
			}
			defer s.close()

			a, tab, err := s.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer tab.Close()

			post, err := s.popup.ExtractActivePost(ctx, a.Name(), modeFlag(visible))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(post); err != nil {
					return err
				}
			} else {
				fmt.Printf("Author:     %s\n", post.AuthorName)
				fmt.Printf("URL:        %s\n", post.Permalink)
				if post.Timestamp != "" {
					fmt.Printf("Posted:     %s\n", post.Timestamp)
				}
				fmt.Printf("Engagement: %d likes, %d comments, %d reposts\n",
					post.Engagement.Likes, post.Engagement.Comments, post.Engagement.Reposts)
				fmt.Printf("Media:      %d\n", len(post.Media))
				fmt.Printf("\n%s\n", post.BodyText)
			}

			if !save {
				return nil
			}
			res := s.popup.RequestSave(ctx, post, a.Name())
			printResult(res)
			// media is relayed through the tab, keep it open until then
			s.orch.Wait()
			return nil
		},
	}

	cmd.Flags().BoolVar(&visible, "visible", false, "pick the most visible post, ignoring interactions")
	cmd.Flags().BoolVar(&save, "save", false, "save the extracted post")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the post as JSON")
	return cmd
}

func captureCmd() *cobra.Command {
	var visible bool

	cmd := &cobra.Command{
		Use:   "capture [url]",
		Short: "Save the active post of a page and wait for media and tagging",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cfg.Browser.Headless)
			if err != nil {
				return err
			}
			defer s.close()

			a, tab, err := s.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer tab.Close()

			res, attempt := s.service.CaptureFrom(ctx, a.Name(), modeFlag(visible))
			printResult(res)
			if attempt == nil {
				return nil
			}

			fmt.Print("Finishing... ")
			select {
			case <-attempt.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
			fmt.Println("done")

			if r, n := attempt.Media(); r != background.MediaNone {
				fmt.Printf("  media:      %s (%d)\n", r, n)
			}
			fmt.Printf("  enrichment: %s\n", attempt.State())
			return nil
		},
	}

	cmd.Flags().BoolVar(&visible, "visible", false, "pick the most visible post, ignoring interactions")
	return cmd
}

func watchCmd() *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "watch [url...]",
		Short: "Open pages and save posts with Alt+Shift+S while browsing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context(), headless)
			if err != nil {
				return err
			}
			defer s.close()

			g, ctx := errgroup.WithContext(cmd.Context())
			for _, url := range args {
				a, tab, err := s.open(ctx, url)
				if err != nil {
					return err
				}
				defer tab.Close()

				changes, activations := tab.Watch(ctx)
				g.Go(func() error {
					return a.Observe(ctx, changes)
				})
				g.Go(func() error {
					for range activations {
						res := a.Activate(ctx)
						log.Info("save triggered", zap.String("page", a.Name()),
							zap.Bool("success", res.Success), zap.String("message", res.Message), zap.String("error", res.Error))
					}
					return nil
				})
				fmt.Printf("Watching %s as %s\n", url, a.Name())
			}
			fmt.Println("Press Alt+Shift+S on a post to save it, Ctrl+C to stop.")
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
	return cmd
}

func printResult(res protocol.SaveResult) {
	if !res.Success {
		fmt.Printf("Not saved: %s\n", res.Error)
		return
	}
	fmt.Printf("%s (%s)\n", res.Message, shortID(res.PostID))
}
