package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	relayerrors "github.com/jammwork/jammwork-sub000/internal/errors"
	"github.com/jammwork/jammwork-sub000/pkg/document"
	"github.com/jammwork/jammwork-sub000/pkg/session"
)

func roomsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Inspect persisted rooms",
		Long: `Inspect and manage rooms in the configured store.

These commands talk to the store directly. Deleting a room that is
resident in a running relay does not evict it; the relay will write it
back on its next persist.`,
	}

	cmd.AddCommand(
		roomsListCmd(flags),
		roomsShowCmd(flags),
		roomsDeleteCmd(flags),
	)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(ctx context.Context, flags *globalFlags, fn func(context.Context, session.RoomStore) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := newLogger(io.Discard, cfg.Log)
	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

func roomsListCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored room ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), flags, func(ctx context.Context, store session.RoomStore) error {
				ids, err := store.List(ctx)
				if err != nil {
					return relayerrors.New("R122").WithDetail("list rooms").Wrap(err)
				}
				sort.Strings(ids)

				out := cmd.OutOrStdout()
				if asJSON {
					if ids == nil {
						ids = []string{}
					}
					return json.NewEncoder(out).Encode(ids)
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print ids as a JSON array")

	return cmd
}

// roomSummary describes a stored room.
type roomSummary struct {
	ID           string            `json:"id"`
	Size         int               `json:"size"`
	LastActivity time.Time         `json:"last_activity"`
	Clients      int               `json:"clients"`
	Clocks       map[string]uint64 `json:"clocks"`
}

func roomsShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <room>",
		Short: "Show a stored room's size, activity and state vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withStore(cmd.Context(), flags, func(ctx context.Context, store session.RoomStore) error {
				state, lastActivity, err := store.Load(ctx, id)
				if errors.Is(err, session.ErrRoomNotFound) {
					return relayerrors.New("R123").WithDetailf("room %q", id)
				}
				if err != nil {
					return relayerrors.New("R122").WithDetailf("load room %q", id).Wrap(err)
				}

				summary, err := summarize(id, state, lastActivity)
				if err != nil {
					return relayerrors.New("R122").WithDetailf("decode room %q", id).Wrap(err)
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			})
		},
	}
}

func summarize(id string, state []byte, lastActivity time.Time) (*roomSummary, error) {
	doc := document.NewLogDocument(0)
	if err := doc.ApplyUpdate(state, "store"); err != nil {
		return nil, err
	}
	sv, err := document.DecodeStateVector(doc.EncodeStateVector())
	if err != nil {
		return nil, err
	}

	clocks := make(map[string]uint64, len(sv))
	for client, clock := range sv {
		clocks[fmt.Sprint(client)] = clock
	}
	return &roomSummary{
		ID:           id,
		Size:         len(state),
		LastActivity: lastActivity.UTC(),
		Clients:      len(sv),
		Clocks:       clocks,
	}, nil
}

func roomsDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <room>...",
		Short: "Delete rooms from the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), flags, func(ctx context.Context, store session.RoomStore) error {
				for _, id := range args {
					if err := store.Delete(ctx, id); err != nil {
						return relayerrors.New("R122").WithDetailf("delete room %q", id).Wrap(err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}
