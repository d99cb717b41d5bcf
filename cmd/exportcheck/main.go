// Command exportcheck loads object exports the way the coordinator does and
// reports what it found: per-venue statistics, big-vector slices that are
// referenced but missing, and records the codec cannot convert.
package main

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/config"
	"DeepReplay/internal/coordinator"
	"DeepReplay/internal/loader"
	"DeepReplay/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
)

type options struct {
	Catalog   string   `short:"c" long:"catalog" description:"Venue catalog (defaults to the embedded mainnet catalog)"`
	Layouts   string   `short:"l" long:"layouts" description:"Additional struct layout file"`
	ExportDir string   `short:"d" long:"dir" default:"./exports" description:"Directory holding per-venue JSONL exports"`
	DSN       string   `long:"dsn" description:"Load from a warehouse table instead of files"`
	Table     string   `long:"table" default:"object_export" description:"Warehouse table name"`
	Venues    []string `short:"v" long:"venue" description:"Only check these venues (repeatable)"`
	Convert   bool     `long:"convert" description:"Dry-run BCS conversion of every record"`
	JSON      bool     `short:"j" long:"json" description:"Print the report as JSON"`
	Verbose   bool     `long:"verbose" description:"Log conversion fallbacks"`
}

type venueReport struct {
	loader.Stats
	Records     int                   `json:"records"`
	Missing     []loader.MissingSlice `json:"missing_slices,omitempty"`
	Converted   int                   `json:"converted,omitempty"`
	Placeholder int                   `json:"placeholder,omitempty"`
	Failed      []string              `json:"failed,omitempty"`
	Skipped     string                `json:"skipped,omitempty"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	catalog, err := config.LoadCatalog(opts.Catalog)
	if err != nil {
		log.Fatalf("FATAL: load catalog: %v", err)
	}

	level := zerolog.ErrorLevel
	if opts.Verbose {
		level = zerolog.WarnLevel
	}

	oracle := codec.DefaultOracle()
	if opts.Layouts != "" {
		if err := oracle.LoadLayoutFile(opts.Layouts); err != nil {
			log.Fatalf("FATAL: load layouts: %v", err)
		}
	}
	converter := codec.NewConverter(oracle, observability.NewLoggerWithLevel("codec", level),
		codec.WithSlicePackage(catalog.DeepBookPackage))

	var src *loader.SQLSource
	if opts.DSN != "" {
		src, err = loader.OpenSQLSource(opts.DSN, opts.Table)
		if err != nil {
			log.Fatalf("FATAL: open warehouse: %v", err)
		}
		defer src.Close()
	}

	want := make(map[string]bool, len(opts.Venues))
	for _, v := range opts.Venues {
		want[v] = true
	}

	ctx := context.Background()
	var reports []venueReport
	failed := false
	for _, v := range catalog.Venues {
		if len(want) > 0 && !want[v.ID] {
			continue
		}
		rep, err := check(ctx, v, &opts, src, catalog.DeepBookPackage, converter, level)
		if err != nil {
			log.Fatalf("FATAL: venue %s: %v", v.ID, err)
		}
		if len(rep.Missing) > 0 || len(rep.Failed) > 0 {
			failed = true
		}
		reports = append(reports, rep)
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			log.Fatalf("FATAL: encode report: %v", err)
		}
	} else {
		for _, r := range reports {
			printReport(r, opts.Convert)
		}
	}

	if failed {
		os.Exit(2)
	}
}

func check(ctx context.Context, v coordinator.Venue, opts *options, src *loader.SQLSource, pkg codec.Address, converter *codec.Converter, level zerolog.Level) (venueReport, error) {
	rep := venueReport{Stats: loader.Stats{Venue: v.ID}}
	l := loader.New(v.ID, observability.NewLoggerWithLevel("loader", level),
		loader.WithBigVectors(v.Asks, v.Bids),
		loader.WithSlicePackage(pkg),
	)

	var err error
	switch {
	case src != nil:
		rep.Records, err = src.Load(ctx, l)
	case v.ExportFile != "":
		path := v.ExportFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(opts.ExportDir, path)
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			rep.Skipped = "no export at " + path
			return rep, nil
		}
		rep.Records, err = l.LoadFile(path)
	default:
		rep.Skipped = "no export file configured"
		return rep, nil
	}
	if err != nil {
		return rep, err
	}

	rep.Stats = l.Stats()
	rep.Missing = l.MissingSlices()

	if opts.Convert {
		for _, r := range l.All() {
			val, err := r.Value()
			if err != nil {
				rep.Failed = append(rep.Failed, fmt.Sprintf("%s: %v", r.ObjectID, err))
				continue
			}
			_, placeholder, err := converter.ConvertOrPlaceholder(r.ObjectID.String(), r.Type, val)
			switch {
			case err != nil:
				rep.Failed = append(rep.Failed, fmt.Sprintf("%s: %v", r.ObjectID, err))
			case placeholder:
				rep.Placeholder++
			default:
				rep.Converted++
			}
		}
	}
	return rep, nil
}

func printReport(r venueReport, converted bool) {
	fmt.Printf("== %s\n", r.Venue)
	if r.Skipped != "" {
		fmt.Printf("   skipped: %s\n", r.Skipped)
		return
	}
	fmt.Printf("   records:        %d\n", r.Records)
	fmt.Printf("   objects:        %d\n", r.TotalObjects)
	fmt.Printf("   ask slices:     %d\n", r.AsksSlices)
	fmt.Printf("   bid slices:     %d\n", r.BidsSlices)
	fmt.Printf("   max checkpoint: %d\n", r.MaxCheckpoint)
	fmt.Printf("   max version:    %d\n", r.MaxVersion)
	fmt.Printf("   missing slices: %d\n", len(r.Missing))
	for _, m := range r.Missing {
		fmt.Printf("     %s/%d\n", m.Parent, m.Name)
	}
	if !converted {
		return
	}
	fmt.Printf("   converted:      %d\n", r.Converted)
	fmt.Printf("   placeholders:   %d\n", r.Placeholder)
	fmt.Printf("   failed:         %d\n", len(r.Failed))
	for _, f := range r.Failed {
		fmt.Printf("     %s\n", f)
	}
}
