// Package main exports stitched flight tracks to KML. KML files can be viewed
// in Google Earth, Google Maps and other mapping applications.
//
// Usage:
//
//	track-export -hex AE1234 [-output tracks.kml]
//	track-export -track 42
//	track-export -hex AE1234 -stats
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"miltracker/internal/adsb"
	"miltracker/internal/config"
	"miltracker/internal/storage"
)

func main() {
	configPath := flag.String("config", envOrDefault("MILTRACKER_CONFIG", ""), "Path to TOML config file")
	hex := flag.String("hex", "", "Export every track of this aircraft")
	trackID := flag.Int64("track", 0, "Export a single track by id")
	output := flag.String("output", "", "Output KML file (default: stdout)")
	showStats := flag.Bool("stats", false, "Show statistics only, don't export")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	if *hex == "" && *trackID == 0 {
		fmt.Fprintf(os.Stderr, "Either -hex or -track is required\n")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	store, err := storage.OpenTrackStore(ctx, cfg.Storage())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	tracks, title, err := loadTracks(ctx, store, adsb.NormaliseHex(*hex), *trackID)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "No tracks found matching criteria\n")
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying tracks: %v\n", err)
		os.Exit(1)
	}

	if *showStats {
		showTrackStats(tracks)
		return
	}

	if len(tracks) == 0 {
		fmt.Fprintf(os.Stderr, "No tracks found matching criteria\n")
		os.Exit(0)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "Exporting %d tracks to KML\n", len(tracks))
	}

	data, err := marshalKML(generateKML(title, tracks, time.Now()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating KML: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := os.WriteFile(*output, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "Wrote %s\n", *output)
		}
	} else {
		fmt.Println(string(data))
	}
}

func loadTracks(ctx context.Context, store storage.Reader, hex string, trackID int64) ([]storage.Track, string, error) {
	if trackID != 0 {
		t, err := store.GetTrack(ctx, trackID)
		if err != nil {
			return nil, "", err
		}
		return []storage.Track{*t}, fmt.Sprintf("Track %d", trackID), nil
	}

	ac, err := store.GetAircraft(ctx, hex)
	if err != nil {
		return nil, "", err
	}
	tracks, err := store.ListTracks(ctx, ac.ID)
	if err != nil {
		return nil, "", err
	}
	return tracks, fmt.Sprintf("Tracks of %s", hex), nil
}

// showTrackStats prints a summary of the selected tracks.
func showTrackStats(tracks []storage.Track) {
	var open, points int
	var km float64
	var first, last time.Time
	for _, t := range tracks {
		if t.Open() {
			open++
		}
		points += t.PointCount
		km += trackLengthKm(t)
		if first.IsZero() || t.StartTime.Before(first) {
			first = t.StartTime
		}
		end := t.StartTime
		if t.EndTime != nil {
			end = *t.EndTime
		}
		if end.After(last) {
			last = end
		}
	}

	fmt.Println("Track Statistics")
	fmt.Println("────────────────")
	fmt.Printf("Tracks:              %d (%d open)\n", len(tracks), open)
	fmt.Printf("Points:              %d\n", points)
	fmt.Printf("Distance:            %.1f km\n", km)
	if len(tracks) > 0 {
		fmt.Printf("Date range:          %s to %s\n", first.Format("2006-01-02 15:04"), last.Format("2006-01-02 15:04"))
	}
}

func trackLengthKm(t storage.Track) float64 {
	line := make(orb.LineString, len(t.Points))
	for i, p := range t.Points {
		line[i] = orb.Point{p.Lon, p.Lat}
	}
	return geo.Length(line) / 1000
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
