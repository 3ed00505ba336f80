package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/gleaner/internal/model"
	"github.com/bryan-buckman/gleaner/internal/retention"
)

var retainFlags struct {
	feedID   int64
	folderID int64
	dryRun   bool
}

var retainCmd = &cobra.Command{
	Use:   "retain",
	Short: "Run retention once",
	Long: `Run retention over every feed, one folder or one feed, and print what was
hidden as JSON.

Examples:
  # Whole subscription tree
  gleaner retain

  # One folder
  gleaner retain --folder 3

  # Show what would be hidden without changing anything
  gleaner retain --feed 12 --dry-run`,
	RunE: runRetain,
}

func init() {
	rootCmd.AddCommand(retainCmd)
	retainCmd.Flags().Int64Var(&retainFlags.feedID, "feed", 0, "only process this feed")
	retainCmd.Flags().Int64Var(&retainFlags.folderID, "folder", 0, "only process feeds below this folder")
	retainCmd.Flags().BoolVar(&retainFlags.dryRun, "dry-run", false, "print decisions without hiding anything")
}

func runRetain(cmd *cobra.Command, args []string) error {
	if retainFlags.feedID != 0 && retainFlags.folderID != 0 {
		return errors.New("--feed and --folder are mutually exclusive")
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if retainFlags.dryRun {
		return previewRetention(cmd, a)
	}

	var node model.Node
	switch {
	case retainFlags.feedID != 0:
		feed, err := a.db.GetFeedByID(ctx, retainFlags.feedID)
		if err != nil {
			return err
		}
		node = model.FeedNode(*feed)
	case retainFlags.folderID != 0:
		folder, err := a.db.GetFolderByID(ctx, retainFlags.folderID)
		if err != nil {
			return err
		}
		node = model.FolderNode(*folder)
	default:
		summary, err := a.engine.ProcessAll(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, summary)
	}
	summary, err := a.engine.ProcessNode(ctx, node)
	if err != nil {
		return err
	}
	return printJSON(cmd, summary)
}

type preview struct {
	FeedID     int64                       `json:"feed_id"`
	Title      string                      `json:"title"`
	Config     retention.Config            `json:"config"`
	Visible    int                         `json:"visible"`
	Candidates map[retention.Criterion]int `json:"candidates"`
	Hide       []int64                     `json:"hide"`
}

// previewRetention decides without applying. Folder filtering is not
// supported here, only a single feed or all of them.
func previewRetention(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	var feeds []model.Feed
	if retainFlags.feedID != 0 {
		feed, err := a.db.GetFeedByID(ctx, retainFlags.feedID)
		if err != nil {
			return err
		}
		feeds = []model.Feed{*feed}
	} else {
		if retainFlags.folderID != 0 {
			return errors.New("--dry-run does not support --folder")
		}
		var err error
		if feeds, err = a.db.GetAllFeeds(ctx); err != nil {
			return err
		}
	}

	now := time.Now()
	out := make([]preview, 0, len(feeds))
	for _, feed := range feeds {
		cfg, err := a.engine.Resolver().Resolve(ctx, feed.ID)
		if err != nil {
			return errors.Wrapf(err, "feed %d", feed.ID)
		}
		items, err := a.db.FeedItems(ctx, feed.ID)
		if err != nil {
			return errors.Wrapf(err, "feed %d", feed.ID)
		}
		d := retention.Decide(cfg, items, now)
		p := preview{
			FeedID:     feed.ID,
			Title:      feed.Title,
			Config:     cfg,
			Visible:    len(items),
			Candidates: d.Candidates,
			Hide:       []int64{},
		}
		for _, it := range d.Hide {
			p.Hide = append(p.Hide, it.ID)
		}
		out = append(out, p)
	}
	return printJSON(cmd, out)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encode output")
	}
	return nil
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
