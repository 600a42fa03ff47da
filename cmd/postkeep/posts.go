package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pbaille/postkeep/internal/background"
	"github.com/pbaille/postkeep/internal/bus"
	"github.com/pbaille/postkeep/internal/control"
	"github.com/pbaille/postkeep/internal/domain"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login state and today's AI usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			c := newClient()
			b := bus.New(log)
			orch := background.NewOrchestrator(c, nil, b, nil, background.DefaultConfig(), log)
			if _, err := background.NewService(orch, b, log).Register(ctx); err != nil {
				return err
			}

			st, err := control.New(b, 0).RequestStatusCheck(ctx)
			if err != nil {
				return err
			}
			if !st.Authenticated {
				fmt.Println("Not logged in. Run 'postkeep token' and set POSTKEEP_TOKEN.")
				return nil
			}
			if st.AccountLabel != "" {
				fmt.Printf("Logged in as %s (%s)\n", st.AccountLabel, cfg.APIURL)
			} else {
				fmt.Printf("Logged in (%s)\n", cfg.APIURL)
			}

			settings, err := c.Settings(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("AI analyses today: %d/%d (auto-analyze %s)\n",
				settings.Used, settings.DailyLimit, onOff(settings.AutoAnalyze))
			return nil
		},
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func listCmd() *cobra.Command {
	var limit, page int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved posts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().ListPosts(cmd.Context(), domain.SearchFilter{Page: page, Limit: limit})
			if err != nil {
				return err
			}
			if res.Total == 0 {
				fmt.Println("No posts yet. Use 'postkeep capture' to save one.")
				return nil
			}
			for _, p := range res.Posts {
				printPost(p)
			}
			fmt.Printf("\npage %d/%d, %d posts\n", res.Page, res.TotalPages, res.Total)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "posts per page")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page number")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		f  domain.SearchFilter
		ai bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search saved posts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.Query = args[0]
			}
			c := newClient()

			var res domain.PostPage
			if ai {
				if f.Query == "" {
					return errors.New("--ai needs a query")
				}
				out, err := c.SearchAI(cmd.Context(), f)
				if err != nil {
					return err
				}
				if len(out.Terms) > 0 {
					fmt.Printf("Searched for: %s\n\n", strings.Join(out.Terms, ", "))
				}
				res = out.PostPage
			} else {
				var err error
				if res, err = c.SearchPosts(cmd.Context(), f); err != nil {
					return err
				}
			}

			if len(res.Posts) == 0 {
				fmt.Println("No matching posts found.")
				return nil
			}
			for _, p := range res.Posts {
				printPost(p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ai, "ai", false, "expand the query with the language model")
	cmd.Flags().StringVar(&f.Author, "author", "", "filter by author")
	cmd.Flags().StringVar(&f.Topic, "topic", "", "filter by topic")
	cmd.Flags().StringVar(&f.Tag, "tag", "", "filter by tag")
	cmd.Flags().StringVar(&f.Sentiment, "sentiment", "", "filter by sentiment")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "maximum results")
	return cmd
}

func groupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "group [author|topic|date|tags|sentiment|engagement]",
		Short: "Count saved posts by a field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := newClient().Group(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Println("No posts yet.")
				return nil
			}
			for _, g := range groups {
				fmt.Printf("%5d  %s\n", g.Count, g.Key)
			}
			return nil
		},
	}
}

func tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags [id] [tag...]",
		Short: "Show or replace the tags of a post",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := newClient()
			id, err := resolveID(ctx, c, args[0])
			if err != nil {
				return err
			}

			if len(args) == 1 {
				// no tags given: print the current ones
				page, err := c.ListPosts(ctx, domain.SearchFilter{Limit: 100})
				if err != nil {
					return err
				}
				for _, p := range page.Posts {
					if p.ID == id {
						fmt.Println(strings.Join(p.Tags, " "))
						return nil
					}
				}
				return fmt.Errorf("post not found: %s", args[0])
			}

			post, err := c.UpdateTags(ctx, id, args[1:])
			if err != nil {
				return err
			}
			fmt.Printf("%s  tags: %s\n", shortID(post.ID), strings.Join(post.Tags, ", "))
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a saved post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			id, err := resolveID(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			if err := c.DeletePost(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", shortID(id))
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "analyze [id]",
		Short: "Run AI tagging on a post, or on unanalyzed posts with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := newClient()

			if all {
				res, err := c.AnalyzeBatch(ctx)
				if err != nil {
					return err
				}
				if res.Message != "" {
					fmt.Println(res.Message)
				}
				fmt.Printf("Analyzed %d of %d\n", res.Analyzed, res.Total)
				return nil
			}

			if len(args) == 0 {
				return errors.New("give a post id or --all")
			}
			id, err := resolveID(ctx, c, args[0])
			if err != nil {
				return err
			}
			post, err := c.Analyze(ctx, id)
			if errors.Is(err, domain.ErrQuotaExceeded) {
				fmt.Println("Daily AI limit reached. Raise it with 'postkeep settings --limit'.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Topic:     %s\n", post.Topic)
			fmt.Printf("Sentiment: %s\n", post.Sentiment)
			fmt.Printf("Tags:      %s\n", strings.Join(post.Tags, ", "))
			if post.Summary != "" {
				fmt.Printf("Summary:   %s\n", post.Summary)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "analyze up to ten unanalyzed posts")
	return cmd
}

func settingsCmd() *cobra.Command {
	var (
		limit int
		auto  string
	)

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the daily AI limit and auto-analyze",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := newClient()

			var patch domain.SettingsPatch
			if cmd.Flags().Changed("limit") {
				patch.DailyLimit = &limit
			}
			if auto != "" {
				v := auto == "on" || auto == "true"
				patch.AutoAnalyze = &v
			}

			var (
				st  domain.Settings
				err error
			)
			if patch.DailyLimit == nil && patch.AutoAnalyze == nil {
				st, err = c.Settings(ctx)
			} else {
				st, err = c.UpdateSettings(ctx, patch)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Daily AI limit: %d (used %d, %d left)\n", st.DailyLimit, st.Used, st.Remaining)
			fmt.Printf("Auto-analyze:   %s\n", onOff(st.AutoAnalyze))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "daily AI analyses, 0 to 100")
	cmd.Flags().StringVar(&auto, "auto", "", "auto-analyze new saves: on or off")
	return cmd
}
