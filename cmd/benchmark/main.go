// Benchmark tool for measuring validation engine throughput against a
// large billing CSV export.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/export.csv -iterations 5
//
// This tool:
//  1. Parses the CSV once into canonical billing records
//  2. Runs the rule engine against those records, repeated -iterations
//     times with -workers concurrent goroutines
//  3. Reports parse time, average per-iteration validation latency,
//     total findings and iterations/sec throughput
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/engine"
	"github.com/montignypatrik/facnet-validator-sub007/internal/ingest"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
	"github.com/montignypatrik/facnet-validator-sub007/internal/rules"
)

// Metrics tracks benchmark results across all iterations.
type Metrics struct {
	IterationsRun  int64
	TotalFindings  int64
	TotalErrors    int64
	ValidationNs   int64 // summed across iterations
}

func main() {
	csvPath := flag.String("csv", "", "path to a billing CSV export")
	iterations := flag.Int("iterations", 10, "number of validation passes to run")
	workers := flag.Int("workers", 4, "concurrent iterations in flight")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/export.csv [-iterations 10] [-workers 4]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("=== validation engine benchmark ===")
	fmt.Printf("CSV file:   %s\n", *csvPath)
	fmt.Printf("Iterations: %d\n", *iterations)
	fmt.Printf("Workers:    %d\n", *workers)

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: failed to open csv: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	parseStart := time.Now()
	result, err := ingest.Parse(file)
	parseElapsed := time.Since(parseStart)
	if err != nil {
		fmt.Printf("ERROR: failed to parse csv: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nParsed %d records (%d row errors) in %v\n", len(result.Records), len(result.Errors), parseElapsed)

	eng := engine.New(rules.NewRegistry(), *workers)
	snap := refcache.Snapshot{Rules: benchmarkRules()}

	metrics := &Metrics{}
	start := time.Now()
	runIterations(eng, snap, result.Records, *iterations, *workers, metrics)
	total := time.Since(start)

	printResults(metrics, total)
}

// benchmarkRules exercises every bespoke handler against the parsed
// batch so the benchmark reflects realistic rule-evaluation cost rather
// than an empty registry.
func benchmarkRules() []domain.Rule {
	return []domain.Rule{
		{
			ID: "bench-daily-time-limit", Type: domain.RuleTypeDailyTimeLimit, Enabled: true, Severity: domain.SeverityError,
			Condition: mustJSON(domain.DailyTimeLimitParams{
				PrimaryCode: "8857", PrimaryMinutes: 30, SecondaryCode: "8859",
				ExcludedContexts: []string{"ICEP", "ICSM", "ICTOX"}, MaxMinutesPerDay: 180,
			}),
		},
		{
			ID: "bench-office-fee", Type: domain.RuleTypeOfficeFee, Enabled: true, Severity: domain.SeverityError,
			Condition: mustJSON(domain.OfficeFeeParams{
				CodeA: "19928", CodeB: "19929", WalkInContexts: []string{"#G160", "#AR"},
				RegisteredMinA: 6, RegisteredMinB: 12, WalkInMinA: 10, WalkInMinB: 20, DailyCapCents: 6480,
			}),
		},
		{
			ID: "bench-annual-limit", Type: domain.RuleTypeAnnualLimit, Enabled: true, Severity: domain.SeverityError,
			Condition: mustJSON(domain.AnnualLimitParams{Codes: []string{"15815"}}),
		},
		{
			ID: "bench-visit-duration", Type: domain.RuleTypeVisitDurationRevenue, Enabled: true, Severity: domain.SeverityOptimization,
			Condition: mustJSON(domain.VisitDurationRevenueParams{
				ThresholdMinutes: 30, ShortVisitCode: "8857", LongVisitCode: "8859",
				EligibleTopLevel: "B - CONSULTATION, EXAMEN ET VISITE",
			}),
		},
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func runIterations(eng *engine.Engine, snap refcache.Snapshot, records []domain.BillingRecord, iterations, workers int, metrics *Metrics) {
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := 0; i < iterations; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(iteration int) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			findings, err := eng.ValidateRecords(context.Background(), records, snap.Rules, snap, fmt.Sprintf("bench-%d", iteration))
			elapsed := time.Since(start)

			atomic.AddInt64(&metrics.IterationsRun, 1)
			atomic.AddInt64(&metrics.ValidationNs, elapsed.Nanoseconds())
			if err != nil {
				atomic.AddInt64(&metrics.TotalErrors, 1)
				return
			}
			atomic.AddInt64(&metrics.TotalFindings, int64(len(findings)))
		}(i)
	}

	wg.Wait()
}

func printResults(m *Metrics, total time.Duration) {
	fmt.Println("\n=== results ===")
	fmt.Printf("Iterations run:     %d\n", m.IterationsRun)
	fmt.Printf("Total findings:     %d\n", m.TotalFindings)
	fmt.Printf("Total errors:       %d\n", m.TotalErrors)
	fmt.Printf("Total wall time:    %v\n", total.Round(time.Millisecond))
	if m.IterationsRun > 0 {
		avg := time.Duration(m.ValidationNs / m.IterationsRun)
		fmt.Printf("Avg validation time: %v\n", avg.Round(time.Microsecond))
		fmt.Printf("Throughput:          %.2f iterations/sec\n", float64(m.IterationsRun)/total.Seconds())
	}
}
