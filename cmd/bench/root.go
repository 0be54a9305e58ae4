package bench

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mnemo-db/mnemo/cmd/util"
	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/sandbox"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

var (
	store storage.IStorage

	// BenchCmd measures the configured storage chain with a synthetic
	// workload and reports per-operation timings.
	BenchCmd = &cobra.Command{
		Use:               "bench",
		Short:             "Benchmark the configured storage chain",
		RunE:              run,
		PersistentPreRunE: setup,
	}

	benchUnits  = 1000
	benchRounds = 3
	benchSkip   = make([]string, 0)
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common store flags to the bench command
	util.SetupStoreFlags(BenchCmd)

	// add flags
	key := "units"
	BenchCmd.PersistentFlags().Int(key, 1000, util.WrapString("Number of units per benchmark round"))
	key = "rounds"
	BenchCmd.PersistentFlags().Int(key, 3, util.WrapString("Number of rounds per benchmark"))
	key = "skip"
	BenchCmd.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. save,recall)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchUnits = viper.GetInt("units")
	benchRounds = viper.GetInt("rounds")
	if s := viper.GetString("skip"); s != "" {
		benchSkip = strings.Split(s, ",")
	}

	var err error
	store, err = util.OpenStore()
	return err
}

func benchType() *schema.Type {
	return schema.NewType("specimen",
		schema.Property{Name: "id", Type: schema.KindInt},
		schema.Property{Name: "label", Type: schema.KindString},
		schema.Property{Name: "score", Type: schema.KindFloat},
	).SetIdentifiers("id").SetSequencer(schema.IntSequencer{})
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Benchmark tool for mnemo storage chains")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Store:  %s\n", viper.GetString("store"))
	fmt.Printf("Cache:  %s\n", viper.GetString("cache"))
	fmt.Printf("Units:  %d\n", benchUnits)
	fmt.Printf("Rounds: %d\n", benchRounds)
	fmt.Println()

	typ := benchType()
	if err := store.Register(typ); err != nil {
		return err
	}
	if err := store.CreateDatabase(storage.ConflictIgnore); err != nil {
		return err
	}
	if err := store.CreateStorage(typ, storage.ConflictIgnore); err != nil {
		return err
	}
	defer store.Shutdown(storage.ConflictIgnore)

	reg := metrics.NewRegistry()
	results := make(map[string]metrics.Timer)

	measure := func(name string, op func() error) error {
		timer := metrics.GetOrRegisterTimer(name, reg)
		results[name] = timer
		if shouldSkip(name) {
			return nil
		}
		for round := 0; round < benchRounds; round++ {
			start := time.Now()
			if err := op(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			timer.UpdateSince(start)
		}
		printResult(name, timer)
		return nil
	}

	units := make([]*unit.Unit, benchUnits)

	steps := []struct {
		name string
		op   func() error
	}{
		{"save", func() error {
			for i := range units {
				u, err := unit.New(typ)
				if err != nil {
					return err
				}
				_ = u.Set("id", int64(i))
				_ = u.Set("label", fmt.Sprintf("specimen-%d", i))
				_ = u.Set("score", float64(i%97))
				if err := store.Save(u, true); err != nil {
					return err
				}
				units[i] = u
			}
			return nil
		}},
		{"recall", func() error {
			got, err := store.Recall(typ, storage.All())
			if err != nil {
				return err
			}
			if len(got) != benchUnits {
				return fmt.Errorf("recalled %d of %d units", len(got), benchUnits)
			}
			return nil
		}},
		{"lookup", func() error {
			for i := 0; i < benchUnits; i++ {
				stmt := storage.All().Where(expr.Eq(expr.A("id"), expr.C(int64(i))))
				got, err := store.Recall(typ, stmt)
				if err != nil {
					return err
				}
				if len(got) != 1 {
					return fmt.Errorf("lookup %d: %d units", i, len(got))
				}
			}
			return nil
		}},
		{"view", func() error {
			q := storage.Query{Source: storage.From(typ), Attrs: []expr.Attr{expr.A("label"), expr.A("score")}}
			_, err := store.View(q, storage.All().OrderBy(expr.By("score")))
			return err
		}},
		{"aggregate", func() error {
			if _, err := store.Count(storage.From(typ), nil); err != nil {
				return err
			}
			_, err := store.Sum(storage.From(typ), expr.A("score"), nil)
			return err
		}},
		{"sandbox", func() error {
			return sandbox.Using(store, func(sb *sandbox.Sandbox) error {
				got, err := sb.Recall(typ, storage.All().WithLimit(benchUnits/10))
				if err != nil {
					return err
				}
				for _, u := range got {
					if err := u.Set("score", u.Get("score").(float64)+1); err != nil {
						return err
					}
				}
				return nil
			})
		}},
		{"destroy", func() error {
			for _, u := range units {
				if err := store.Destroy(u); err != nil {
					return err
				}
			}
			return nil
		}},
	}

	for _, step := range steps {
		if err := measure(step.name, step.op); err != nil {
			return err
		}
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, timer metrics.Timer) {
	if timer.Count() == 0 {
		fmt.Printf("%-12sskipped\n", test)
		return
	}
	mean := time.Duration(timer.Mean())
	fmt.Printf("%-12s%v/round (min %v, max %v)\n",
		test, mean, time.Duration(timer.Min()), time.Duration(timer.Max()))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]metrics.Timer) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Rounds", "MeanNs", "MinNs", "MaxNs", "Skipped",
		"Store", "Cache", "Units",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, timer := range results {
		row := []string{
			test,
			strconv.FormatInt(timer.Count(), 10),
			fmt.Sprintf("%.0f", timer.Mean()),
			strconv.FormatInt(timer.Min(), 10),
			strconv.FormatInt(timer.Max(), 10),
			strconv.FormatBool(timer.Count() == 0),
			viper.GetString("store"),
			viper.GetString("cache"),
			strconv.Itoa(benchUnits),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
