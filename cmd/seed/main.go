// Command seed fills the configured store with generated users, posts,
// reposts and likes.
package main

import (
	"fmt"
	"os"

	"murmur/internal/bootstrap"
	"murmur/internal/config"
	"murmur/internal/seed"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := seed.DemoOptions()
	var preset string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate demo data for the feed",
		Long: `Generate users, posts, reposts and likes in the store selected by
DB_DRIVER. Reposts target earlier posts so repost chains form naturally.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if p, ok := presets[preset]; ok && !cmd.Flags().Changed("users") && !cmd.Flags().Changed("posts") {
				opts.NumUsers, opts.NumPosts = p.NumUsers, p.NumPosts
			} else if !ok && preset != "" {
				return fmt.Errorf("unknown preset %q", preset)
			}
			return runSeed(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&preset, "preset", "", "dataset size: small, medium or large")
	f.IntVar(&opts.NumUsers, "users", opts.NumUsers, "number of users to create")
	f.IntVar(&opts.NumPosts, "posts", opts.NumPosts, "number of posts to create")
	f.Float64Var(&opts.RepostRatio, "reposts", opts.RepostRatio, "share of posts that are reposts (0-1)")
	f.IntVar(&opts.MaxLikes, "max-likes", opts.MaxLikes, "maximum likes per post")
	f.IntVar(&opts.MaxDays, "days", opts.MaxDays, "spread posts over this many days")
	f.IntVar(&opts.Moderators, "moderators", opts.Moderators, "number of moderator accounts")
	f.Int64Var(&opts.Seed, "seed", 0, "random seed for a reproducible dataset (0 = random)")

	return cmd
}

var presets = map[string]seed.Options{
	"small":  {NumUsers: 10, NumPosts: 50},
	"medium": {NumUsers: 50, NumPosts: 500},
	"large":  {NumUsers: 200, NumPosts: 5000},
}

func runSeed(cmd *cobra.Command, opts seed.Options) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.IsProduction() {
		return fmt.Errorf("refusing to seed in %s", cfg.Env)
	}
	if cfg.DBDriver == config.DriverMemory {
		return fmt.Errorf("DB_DRIVER=memory does not persist; the server seeds it on start")
	}

	ctx := cmd.Context()
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	res, err := seed.Seed(ctx, rt.Posts, rt.Users, opts)
	if err != nil {
		return err
	}

	reposts := 0
	for _, p := range res.Posts {
		if p.IsRepost() {
			reposts++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d posts (%d reposts), %d likes into %s\n",
		len(res.Users), len(res.Posts), reposts, res.Likes, cfg.DBDriver)
	return nil
}
