// Command event-report renders an offline HTML report of persisted pipeline
// events: totals per label and event volume over time. It reads the event
// database directly, so it can run against a live sentinel (WAL mode) or a
// copied database file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/argus-sensing/sentinel.vision/internal/db"
	"github.com/argus-sensing/sentinel.vision/internal/security"
	"github.com/argus-sensing/sentinel.vision/internal/vision"
	"github.com/argus-sensing/sentinel.vision/internal/vision/storage/sqlite"
)

var (
	dbPath = flag.String("db", "events.db", "Path to the event database")
	out    = flag.String("out", "event-report.html", "Output HTML file")
	window = flag.Duration("window", 7*24*time.Hour, "How far back to report")
	limit  = flag.Int("limit", 10000, "Maximum events to load")
)

func main() {
	flag.Parse()

	if err := security.ValidateExportPath(*out); err != nil {
		log.Fatalf("Refusing output path: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	store := sqlite.NewEventStore(database.DB)
	ctx := context.Background()
	since := time.Now().Add(-*window)

	counts, err := store.CountByLabel(ctx, since)
	if err != nil {
		log.Fatalf("Failed to aggregate labels: %v", err)
	}
	events, err := store.RecentEvents(ctx, *limit)
	if err != nil {
		log.Fatalf("Failed to load events: %v", err)
	}

	page := components.NewPage()
	page.PageTitle = "Event Report"
	page.AddCharts(labelChart(counts, since), volumeChart(events, since))

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("Failed to render report: %v", err)
	}
	log.Printf("Wrote %s: %d labels, %d events since %s",
		*out, len(counts), len(events), since.Format(time.RFC3339))
}

func labelChart(counts []sqlite.LabelCount, since time.Time) *charts.Bar {
	labels := make([]string, 0, len(counts))
	values := make([]opts.BarData, 0, len(counts))
	for _, lc := range counts {
		labels = append(labels, lc.Label)
		values = append(values, opts.BarData{Value: lc.Count})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Events per Label", Subtitle: fmt.Sprintf("since %s", since.Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).AddSeries("events", values,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

func volumeChart(events []vision.Event, since time.Time) *charts.Line {
	// Bucket per hour. RecentEvents is newest first and may reach further
	// back than the window; both are handled here.
	buckets := make(map[time.Time]int)
	for _, e := range events {
		if e.Timestamp.Before(since) {
			continue
		}
		buckets[e.Timestamp.Truncate(time.Hour)]++
	}

	hours := make([]string, 0)
	values := make([]opts.LineData, 0)
	for h := since.Truncate(time.Hour); !h.After(time.Now()); h = h.Add(time.Hour) {
		hours = append(hours, h.Format("01-02 15:04"))
		values = append(values, opts.LineData{Value: buckets[h]})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Event Volume per Hour"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(hours).AddSeries("events", values,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
	)
	return line
}
