package main

import (
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Printf("replay: %v", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("store", "./data", "File store directory")
	dsn := flag.String("dsn", "", "Postgres DSN (overrides -store)")
	startFlag := flag.String("start", "", "Range start, RFC3339 (default: beginning of today)")
	endFlag := flag.String("end", "", "Range end, RFC3339 (default: now)")
	kindsFlag := flag.String("kinds", "", "Comma-separated event kinds (default: all)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	flag.Parse()

	start, end, err := resolveRange(*startFlag, *endFlag)
	if err != nil {
		return err
	}
	var kinds []string
	if *kindsFlag != "" {
		kinds = strings.Split(*kindsFlag, ",")
	}

	st, err := openStore(*path, *dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.ReadEvents(start, end, kinds)
	if err != nil {
		return err
	}
	logs.Infof("replaying %d events from %s to %s", len(events), start.Format(time.RFC3339), end.Format(time.RFC3339))

	metrics := obs.NewMetrics()
	router := bus.NewRouter(metrics)
	counts := make(map[string]int)
	router.Subscribe("replay", []string{model.KindAny}, func(event model.Event) error {
		counts[event.Kind]++
		return nil
	})

	var prev time.Time
	for _, event := range events {
		if *speed > 0 && !prev.IsZero() {
			gap := event.OccurredAt.Sub(prev)
			if gap > 0 {
				time.Sleep(time.Duration(float64(gap) / *speed))
			}
		}
		prev = event.OccurredAt
		router.Publish(event)
	}
	router.Close()

	for kind, n := range counts {
		logs.Infof("  %s: %d", kind, n)
	}
	logs.Infof("replay completed: total=%d", len(events))
	return nil
}

func resolveRange(startFlag, endFlag string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start := now.Truncate(24 * time.Hour)
	end := now
	var err error
	if startFlag != "" {
		if start, err = time.Parse(time.RFC3339, startFlag); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if endFlag != "" {
		if end, err = time.Parse(time.RFC3339, endFlag); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}

func openStore(path, dsn string) (store.Store, error) {
	if dsn != "" {
		return store.NewPGStore(dsn)
	}
	return store.NewFileStore(path)
}
