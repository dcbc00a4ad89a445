// Package sample implements the subcommand that answers elevation queries
// from a configured model.
package sample

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/elevation"
	"github.com/gruppe-adler/terrain/internal/geo"
	"github.com/gruppe-adler/terrain/internal/tilecache"
)

// Run is the subcommand's entrypoint
func Run(flagSet *flag.FlagSet) {
	configPtr := flagSet.String("config", "", "Path to model configuration file")
	storePtr := flagSet.String("store", "", "Path to tile store directory")
	pointsPtr := flagSet.String("points", "", "Positions to sample as lat,lon;lat,lon;…")
	resolutionPtr := flagSet.Float64("resolution", 0, "Target resolution in degrees per sample (0 for best)")

	flagSet.Parse(os.Args[2:])

	if *configPtr == "" || *storePtr == "" || *pointsPtr == "" {
		flagSet.PrintDefaults()
		os.Exit(1)
	}

	points, err := parsePoints(*pointsPtr)
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

	timer := time.Now()
	fmt.Println("▶️  Building elevation model")
	model, err := elevation.New(params, store)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("✔️  Built model", model.Name(), "in", time.Since(timer).String())

	sector := boundingSector(points)
	resolution := *resolutionPtr
	if resolution <= 0 {
		resolution = model.BestResolution(&sector)
	}

	buffer := make([]float64, len(points))
	for i := range buffer {
		buffer[i] = math.NaN()
	}

	timer = time.Now()
	fmt.Println("▶️  Sampling", len(points), "positions")
	achieved, err := model.Elevations(context.Background(), sector, points, resolution, buffer)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("✔️  Sampled in", time.Since(timer).String())

	fmt.Printf("\nℹ️  Achieved resolution: %v degrees per sample\n", achieved)
	for i, pt := range points {
		if math.IsNaN(buffer[i]) {
			fmt.Printf("    %v,%v: no data\n", pt.Lat(), pt.Lon())
			continue
		}
		fmt.Printf("    %v,%v: %.2f m\n", pt.Lat(), pt.Lon(), buffer[i])
	}
}

func parsePoints(s string) ([]orb.Point, error) {
	var points []orb.Point
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("position must be lat,lon, got %q", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("latitude %q: %w", parts[0], err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("longitude %q: %w", parts[1], err)
		}
		points = append(points, geo.Point(lat, lon))
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no positions given")
	}
	return points, nil
}

func boundingSector(points []orb.Point) geo.Sector {
	s := geo.NewSector(points[0].Lat(), points[0].Lat(), points[0].Lon(), points[0].Lon())
	for _, pt := range points[1:] {
		if pt.Lat() < s.MinLat {
			s.MinLat = pt.Lat()
		}
		if pt.Lat() > s.MaxLat {
			s.MaxLat = pt.Lat()
		}
		if pt.Lon() < s.MinLon {
			s.MinLon = pt.Lon()
		}
		if pt.Lon() > s.MaxLon {
			s.MaxLon = pt.Lon()
		}
	}
	return s
}
