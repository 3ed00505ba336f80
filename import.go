package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/gleaner/internal/opml"
)

var importCmd = &cobra.Command{
	Use:   "import <file.opml>",
	Short: "Import subscriptions from an OPML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "open opml")
		}
		defer f.Close()
		entries, err := opml.Parse(f)
		if err != nil {
			return err
		}
		res, err := opml.Import(cmd.Context(), a.db, entries)
		if err != nil {
			return err
		}
		printf(cmd, "Imported %d new feeds (%d in file)\n", res.Created, res.Feeds)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the subscriptions as OPML to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		subs, err := a.db.GetSubscriptions(cmd.Context())
		if err != nil {
			return err
		}
		data, err := opml.Export("Gleaner Feeds", subs, time.Now())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch every feed once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.fetcher.FetchAll(cmd.Context())
		if err != nil {
			return err
		}
		total := 0
		for _, n := range results {
			total += n
		}
		printf(cmd, "Fetched %d feeds, %d new items\n", len(results), total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd, exportCmd, fetchCmd)
}
