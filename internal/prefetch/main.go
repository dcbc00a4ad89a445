// Package prefetch implements the subcommand that bulk-downloads the tiles
// covering a sector into the tile store, so later sampling can run offline.
package prefetch

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/elevation"
	"github.com/gruppe-adler/terrain/internal/geo"
	"github.com/gruppe-adler/terrain/internal/tilecache"
)

type prefetcher interface {
	Prefetch(ctx context.Context, sector geo.Sector, resolution float64) (int, error)
}

// Run is the subcommand's entrypoint
func Run(flagSet *flag.FlagSet) {
	configPtr := flagSet.String("config", "", "Path to model configuration file")
	storePtr := flagSet.String("store", "", "Path to tile store directory")
	sectorPtr := flagSet.String("sector", "", "Sector to download as minLat,maxLat,minLon,maxLon")
	resolutionPtr := flagSet.Float64("resolution", 0, "Target resolution in degrees per sample (0 for finest)")

	flagSet.Parse(os.Args[2:])

	if *configPtr == "" || *storePtr == "" || *sectorPtr == "" {
		flagSet.PrintDefaults()
		os.Exit(1)
	}

	sector, err := parseSector(*sectorPtr)
	if err != nil {
		log.Fatal(err)
	}

	doc, err := os.ReadFile(*configPtr)
	if err != nil {
		log.Fatal(err)
	}
	params, err := config.Parse(doc)
	if err != nil {
		log.Fatal(err)
	}

	store, err := tilecache.NewStore(*storePtr)
	if err != nil {
		log.Fatal(err)
	}

	model, err := elevation.New(params, store)
	if err != nil {
		log.Fatal(err)
	}
	p, ok := model.(prefetcher)
	if !ok {
		log.Fatalf("model %s does not support prefetching", model.Name())
	}

	start := time.Now()
	fmt.Println("▶️  Downloading tiles for", sector)
	stored, err := p.Prefetch(context.Background(), sector, *resolutionPtr)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("\n    🎉  Stored %d new tiles in %s\n", stored, time.Since(start).String())
}

func parseSector(s string) (geo.Sector, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.Sector{}, fmt.Errorf("sector must be minLat,maxLat,minLon,maxLon, got %q", s)
	}
	vals := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return geo.Sector{}, fmt.Errorf("sector component %q: %w", part, err)
		}
		vals[i] = v
	}
	sector := geo.NewSector(vals[0], vals[1], vals[2], vals[3])
	if !sector.IsValid() {
		return geo.Sector{}, fmt.Errorf("sector %q is not a valid sector", s)
	}
	return sector, nil
}
