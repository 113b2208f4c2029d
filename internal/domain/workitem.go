package domain

import "time"

// TileFiles locates the data and mask files of one tile for one date.
// Empty paths mean the file was not found.
type TileFiles struct {
	TileID   string
	DataPath string
	MaskPath string
}

// WorkItem is everything needed to build the clipped raster for one date.
type WorkItem struct {
	Date  time.Time
	Tiles []TileFiles // priority order
}

// Missing lists the files a work item lacks, as "<tile>/<kind>".
func (w WorkItem) Missing() []string {
	var out []string
	for _, t := range w.Tiles {
		if t.DataPath == "" {
			out = append(out, t.TileID+"/"+string(KindData))
		}
		if t.MaskPath == "" {
			out = append(out, t.TileID+"/"+string(KindMask))
		}
	}
	return out
}
