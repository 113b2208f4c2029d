package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

// Plan scans dir for <tile>_<YYYYMMDD>_<data|mask>.tif files and returns one
// work item per acquisition date, oldest first. Tiles follow tileIDs, or the
// sorted set of discovered tile ids when tileIDs is empty. Files of tiles
// outside tileIDs and unrecognised names are ignored. A tile absent on a date
// leaves empty paths so the date is reported as missing input.
func Plan(dir string, tileIDs []string) ([]domain.WorkItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.ConfigErrorf("input directory %s: %v", dir, err)
	}

	type key struct {
		date string
		tile string
	}
	files := make(map[key]*domain.TileFiles)
	dates := make(map[string]time.Time)
	seen := make(map[string]struct{})

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		tile, date, kind, ok := domain.ParseTileName(e.Name())
		if !ok {
			continue
		}
		k := key{date: domain.FormatDate(date), tile: tile}
		tf, ok := files[k]
		if !ok {
			tf = &domain.TileFiles{TileID: tile}
			files[k] = tf
		}
		path := filepath.Join(dir, e.Name())
		switch kind {
		case domain.KindData:
			tf.DataPath = path
		case domain.KindMask:
			tf.MaskPath = path
		}
		dates[k.date] = date
		seen[tile] = struct{}{}
	}

	order := tileIDs
	if len(order) == 0 {
		for id := range seen {
			order = append(order, id)
		}
		sort.Strings(order)
	}
	if err := checkUnique(order); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(dates))
	for d := range dates {
		keys = append(keys, d)
	}
	sort.Strings(keys)

	items := make([]domain.WorkItem, 0, len(keys))
	for _, d := range keys {
		item := domain.WorkItem{Date: dates[d], Tiles: make([]domain.TileFiles, 0, len(order))}
		relevant := false
		for _, tile := range order {
			if tf, ok := files[key{date: d, tile: tile}]; ok {
				item.Tiles = append(item.Tiles, *tf)
				relevant = true
				continue
			}
			item.Tiles = append(item.Tiles, domain.TileFiles{TileID: tile})
		}
		if relevant {
			items = append(items, item)
		}
	}
	return items, nil
}

func checkUnique(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return domain.ConfigErrorf("tile %s listed twice in TILE_IDS", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// describe renders a work item for logs.
func describe(item domain.WorkItem) string {
	return fmt.Sprintf("%s (%d tiles)", domain.FormatDate(item.Date), len(item.Tiles))
}
