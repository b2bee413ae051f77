package mem

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/15201047795/outpost-core/cmd/util"
	"github.com/15201047795/outpost-core/rmap/initiator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Measures read and write throughput against a target",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfBaseAddress uint32 = 0x1000
	perfValueSize          = 64
	perfNumThreads         = 8
	perfAddressSpread      = 100
	perfSkip               = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. write,read)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 8, util.WrapString("Number of goroutines issuing requests"))
	key = "value-size"
	perfTestCmd.Flags().Int(key, 64, util.WrapString("Payload size of every read and write in bytes"))
	key = "addresses"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different addresses to use for the tests"))
	key = "base-address"
	perfTestCmd.Flags().Uint32(key, 0x1000, util.WrapString("First memory address used by the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfValueSize = viper.GetInt("value-size")
	perfAddressSpread = viper.GetInt("addresses")
	perfNumThreads = viper.GetInt("threads")
	perfBaseAddress = viper.GetUint32("base-address")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfValueSize <= 0 || perfValueSize > engine.Config().MaxTransferSize {
		return fmt.Errorf("value size must be in [1, %d]", engine.Config().MaxTransferSize)
	}
	if perfAddressSpread <= 0 {
		return fmt.Errorf("addresses must be positive")
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for RMAP targets")

	config := engine.Config()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Print(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	target := viper.GetString("target")
	timeout := util.GetTimeout()
	value := make([]byte, perfValueSize)
	var failures atomic.Uint64

	benchmarks := []struct {
		name string
		op   func(counter int) error
	}{
		{"write", func(counter int) error {
			return engine.Write(target, initiator.Options{Increment: true, ReplyRequested: true}, address(counter), value, timeout)
		}},
		{"write-noreply", func(counter int) error {
			return engine.Write(target, initiator.Options{Increment: true}, address(counter), value, timeout)
		}},
		{"read", func(counter int) error {
			_, err := engine.Read(target, initiator.Options{Increment: true}, address(counter), make([]byte, perfValueSize), timeout)
			return err
		}},
		{"mixed", func(counter int) error {
			if counter%2 == 0 {
				return engine.Write(target, initiator.Options{Increment: true, ReplyRequested: true}, address(counter), value, timeout)
			}
			_, err := engine.Read(target, initiator.Options{Increment: true}, address(counter), make([]byte, perfValueSize), timeout)
			return err
		}},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		bm := bm
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := bm.op(counter); err != nil {
						failures.Add(1)
						log.Debugf("(%s) - request failed: %v", bm.name, err)
					}
					counter++
				}
			})
		})

		results[bm.name] = result
		printResult(bm.name, result)
	}

	if n := failures.Load(); n > 0 {
		fmt.Printf("\n%d requests failed\n", n)
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
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// address maps a request counter to one of the test addresses
func address(counter int) uint32 {
	return perfBaseAddress + uint32((counter%perfAddressSpread)*perfValueSize)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := engine.Config()
	transportConfig := util.GetTransportConfig()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "Transport", "MaxTransactions", "Timeout",
		"Threads", "ValueSize", "Addresses",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			transportConfig.Endpoint,
			viper.GetString("transport"),
			strconv.Itoa(config.MaxTransactions),
			util.GetTimeout().String(),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfValueSize),
			strconv.Itoa(perfAddressSpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
