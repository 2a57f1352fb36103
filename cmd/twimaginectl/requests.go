package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/twimagine/internal/store"
	"github.com/kiranshivaraju/twimagine/pkg/models"
	"github.com/spf13/cobra"
)

func requestsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect image requests",
	}
	cmd.AddCommand(requestsListCmd(a), requestsShowCmd(a))
	return cmd
}

func requestsListCmd(a *app) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recently updated requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.RequestFilter{Page: 1, Limit: limit}
			if status != "" {
				filter.Status = models.RequestStatus(status)
				if !filter.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}

			return a.withStore(cmd.Context(), func(s ctlStore) error {
				reqs, total, err := s.ListImageRequests(cmd.Context(), filter)
				if err != nil {
					return fmt.Errorf("list requests: %w", err)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tAUTHOR\tSOURCE POST\tUPDATED")
				for _, r := range reqs {
					fmt.Fprintf(tw, "%s\t%s\t@%s\t%s\t%s\n", r.ID, r.Status, r.AuthorHandle, r.SourcePostID,
						r.UpdatedAt.Format(time.RFC3339))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(reqs), total)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only requests in this status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}

func requestsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print one request as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("request id must be a UUID: %w", err)
			}
			return a.withStore(cmd.Context(), func(s ctlStore) error {
				req, err := s.GetImageRequest(cmd.Context(), id)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("request %s not found", id)
				}
				if err != nil {
					return fmt.Errorf("load request: %w", err)
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(req)
			})
		},
	}
}
