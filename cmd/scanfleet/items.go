package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

// importItem is one entry of an items import file.
type importItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Disabled  bool   `json:"disabled"`
	IsPreset  bool   `json:"isPreset"`
	NoFlea    bool   `json:"noFlea"`
	OnlyFlea  bool   `json:"onlyFlea"`
}

func newItemsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage the work item catalogue",
	}
	cmd.AddCommand(newItemsImportCmd(a))
	return cmd
}

func newItemsImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Upsert work items from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readItems(args[0])
			if err != nil {
				return err
			}

			d, err := a.openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			if err := store.ImportWorkItems(cmd.Context(), d, items); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d items.\n", len(items))
			return nil
		},
	}
}

func readItems(path string) ([]model.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading items file: %w", err)
	}
	var raw []importItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing items file: %w", err)
	}

	items := make([]model.WorkItem, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, it := range raw {
		if it.ID == "" {
			return nil, fmt.Errorf("item %d has no id", i)
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("duplicate item id %s", it.ID)
		}
		seen[it.ID] = true
		items = append(items, model.WorkItem{
			ID:        it.ID,
			Name:      it.Name,
			ShortName: it.ShortName,
			Disabled:  it.Disabled,
			IsPreset:  it.IsPreset,
			NoFlea:    it.NoFlea,
			OnlyFlea:  it.OnlyFlea,
		})
	}
	return items, nil
}
