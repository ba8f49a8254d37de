// Package cli – items commands
//
// This file lists and posts items and prints the strong matches for one of
// the caller's items.
package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-lostfound-client/internal/api"
	"github.com/tbourn/go-lostfound-client/internal/domain"
)

func newItemsCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List, post and match lost and found items",
	}
	cmd.AddCommand(newItemsListCmd(st), newItemsCreateCmd(st), newItemsSimilarCmd(st))
	return cmd
}

func newItemsListCmd(st *state) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posted items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := st.open(cmd)
			if err != nil {
				return err
			}
			items, err := app.Items.List(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tTITLE\tWHERE\tOWNER\tPOSTED\tIMAGE")
			for _, it := range items {
				if kind != "" && it.Type != kind {
					continue
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t#%d\t%s\t%s\n",
					it.ID, label(it.Type), label(it.Status), truncateRunes(it.Title, 40),
					where(it), it.OwnerID, timeAgo(it.CreatedAt, now),
					api.ResolveMediaURL(app.Cfg.MediaOrigin, it.ImageURL))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "only lost or found items")
	return cmd
}

func where(it domain.Item) string {
	switch {
	case it.RoomLabel != "" && it.FloorLabel != "":
		return it.RoomLabel + ", " + it.FloorLabel
	case it.RoomLabel != "":
		return it.RoomLabel
	}
	return it.FloorLabel
}

func newItemsCreateCmd(st *state) *cobra.Command {
	var in domain.NewItem
	cmd := &cobra.Command{
		Use:   "create <lost|found> <title>",
		Short: "Post an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Type, in.Title = args[0], args[1]
			if in.Type != domain.ItemLost && in.Type != domain.ItemFound {
				return fmt.Errorf("type must be %q or %q", domain.ItemLost, domain.ItemFound)
			}
			app, err := st.session(cmd)
			if err != nil {
				return err
			}
			it, err := app.Items.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Posted item #%d: %s (%s)\n", it.ID, it.Title, label(it.Type))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Category, "category", "", "electronics|clothes|personal|documents")
	f.StringVar(&in.RoomID, "room-id", "", "room identifier")
	f.StringVar(&in.RoomLabel, "room", "", "room label")
	f.StringVar(&in.FloorLabel, "floor", "", "floor label")
	f.StringVar(&in.Description, "description", "", "free text description")
	f.StringVar(&in.ImageURL, "image", "", "image URL or media path")
	return cmd
}

func newItemsSimilarCmd(st *state) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "similar <item-id>",
		Short: "Find items that may match one of yours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "item id")
			if err != nil {
				return err
			}
			app, err := st.session(cmd)
			if err != nil {
				return err
			}
			matches, err := app.Items.Similar(cmd.Context(), id, app.Cfg.SimilarLimit)
			switch {
			case errors.Is(err, domain.ErrAuthRejected), errors.Is(err, domain.ErrAuthExpired):
				return fmt.Errorf("not allowed to search matches for item #%d: %w", id, err)
			case err != nil:
				return err
			}
			if !all {
				matches = api.StrongMatches(matches, app.Cfg.SimilarThreshold)
			}
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintf(out, "No strong matches for item #%d yet.\n", id)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tID\tTITLE\tWHERE\tOWNER")
			for _, m := range matches {
				fmt.Fprintf(tw, "%.2f\t%d\t%s\t%s\t#%d\n", m.Score, m.Item.ID, m.Item.Title, where(m.Item), m.Item.OwnerID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include weak matches")
	return cmd
}
