// Command procbench compares running CPU-bound work in the current process
// against running it in a procpool worker pool, one call at a time and
// through Map with chunking.
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/utkarsh5026/procpool/pool"
)

var (
	bold  = color.New(color.Bold)
	red   = color.New(color.FgRed)
	green = color.New(color.FgGreen)
)

type result struct {
	Name  string
	Time  time.Duration
	Tasks int
	Rank  int
}

func init() {
	pool.Register("bench.primes", func(_ context.Context, n int) (int, error) {
		return countPrimes(n), nil
	})
	pool.Register("bench.collatz", func(_ context.Context, n int) (int, error) {
		return longestCollatz(n), nil
	})
}

// countPrimes counts the primes below n by trial division.
func countPrimes(n int) int {
	count := 0
	for i := 2; i < n; i++ {
		prime := true
		for d := 2; d*d <= i; d++ {
			if i%d == 0 {
				prime = false
				break
			}
		}
		if prime {
			count++
		}
	}
	return count
}

// longestCollatz returns the start below n with the longest Collatz chain.
func longestCollatz(n int) int {
	best, bestLen := 1, 1
	for i := 1; i < n; i++ {
		length := 1
		for x := uint64(i); x != 1; length++ {
			if x%2 == 0 {
				x /= 2
			} else {
				x = 3*x + 1
			}
		}
		if length > bestLen {
			best, bestLen = i, length
		}
	}
	return best
}

func makeProgressBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func runSequential(fn func(int) int, args []int) (result, []int) {
	bar := makeProgressBar(len(args), "Sequential")
	start := time.Now()

	out := make([]int, len(args))
	for i, n := range args {
		out[i] = fn(n)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return result{Name: "Sequential", Time: time.Since(start), Tasks: len(args)}, out
}

func runSubmit(p *pool.ProcessPool, name string, args []int) (result, []int, error) {
	bar := makeProgressBar(len(args), "Submit")
	start := time.Now()

	futures := make([]*pool.Future[int], 0, len(args))
	for _, n := range args {
		f, err := pool.Submit[int, int](p, name, n)
		if err != nil {
			return result{}, nil, err
		}
		futures = append(futures, f)
	}

	out := make([]int, len(args))
	for i, f := range futures {
		v, err := f.Get()
		if err != nil {
			return result{}, nil, fmt.Errorf("call %d: %w", f.WorkID(), err)
		}
		out[i] = v
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return result{Name: "Submit", Time: time.Since(start), Tasks: len(args)}, out, nil
}

func runMap(p *pool.ProcessPool, name string, args []int, chunk int) (result, []int, error) {
	bar := makeProgressBar(len(args), fmt.Sprintf("Map (chunk %d)", chunk))
	start := time.Now()

	seq, err := pool.Map[int, int](context.Background(), p, name, args, pool.WithChunkSize(chunk))
	if err != nil {
		return result{}, nil, err
	}

	out := make([]int, 0, len(args))
	for v, err := range seq {
		if err != nil {
			return result{}, nil, err
		}
		out = append(out, v)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return result{Name: fmt.Sprintf("Map (chunk %d)", chunk), Time: time.Since(start), Tasks: len(args)}, out, nil
}

func printComparisonTable(results []result) {
	fmt.Println()
	_, _ = bold.Println("Results")
	fmt.Println()

	slices.SortFunc(results, func(a, b result) int { return cmp.Compare(a.Time, b.Time) })
	fastest := results[0].Time

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Rank", "Mode", "Time", "Tasks/sec", "vs Fastest")

	for i := range results {
		r := &results[i]
		r.Rank = i + 1

		vs := fmt.Sprintf("%.2fx", float64(r.Time)/float64(fastest))
		if r.Rank == 1 {
			vs = "baseline"
		}

		_ = table.Append(
			fmt.Sprintf("%d", r.Rank),
			r.Name,
			r.Time.Round(time.Millisecond).String(),
			fmt.Sprintf("%.1f", float64(r.Tasks)/r.Time.Seconds()),
			vs,
		)
	}
	_ = table.Render()
}

func printConfiguration(workers, tasks, n, chunk int, fn string) {
	_, _ = bold.Println("Configuration:")
	fmt.Printf("  Workers:    %d processes (%d CPU cores)\n", workers, runtime.NumCPU())
	fmt.Printf("  Function:   %s\n", fn)
	fmt.Printf("  Tasks:      %d calls, argument %d\n", tasks, n)
	fmt.Printf("  Chunk Size: %d calls per message\n", chunk)
	fmt.Println()
}

func fail(format string, a ...any) {
	_, _ = red.Printf(format+"\n", a...)
	os.Exit(1)
}

func main() {
	pool.ServeWorker()
	defer pool.ShutdownAll()

	workersFlag := flag.Int("workers", 0, "Number of worker processes (0 = one per CPU)")
	tasksFlag := flag.Int("tasks", 64, "Number of calls to run")
	nFlag := flag.Int("n", 200_000, "Argument passed to every call")
	chunkFlag := flag.Int("chunk", 8, "Calls per chunk in Map mode")
	fnFlag := flag.String("fn", "primes", "Workload: primes or collatz")
	configFlag := flag.String("config", "", "YAML pool config file")
	verboseFlag := flag.Bool("v", false, "Log pool lifecycle events to stderr")
	flag.Parse()

	var opts []pool.Option
	if *configFlag != "" {
		cfg, err := pool.LoadConfig(*configFlag)
		if err != nil {
			fail("Error: %v", err)
		}
		opts = append(opts, cfg.Options()...)
	}
	if *workersFlag > 0 {
		opts = append(opts, pool.WithMaxWorkers(*workersFlag))
	}
	if *verboseFlag {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		opts = append(opts, pool.WithLogger(logger))
	}

	var local func(int) int
	switch *fnFlag {
	case "primes":
		local = countPrimes
	case "collatz":
		local = longestCollatz
	default:
		fail("Error: unknown workload %q", *fnFlag)
	}
	name := "bench." + *fnFlag

	p, err := pool.NewProcessPool(opts...)
	if err != nil {
		fail("Error: %v", err)
	}
	defer p.Shutdown(true)

	args := make([]int, *tasksFlag)
	for i := range args {
		args[i] = *nFlag
	}

	printConfiguration(p.MaxWorkers(), len(args), *nFlag, *chunkFlag, name)
	_, _ = bold.Println("Running Benchmarks...")
	fmt.Println()

	seq, want := runSequential(local, args)
	results := []result{seq}

	sub, got, err := runSubmit(p, name, args)
	if err != nil {
		fail("Error: %v", err)
	}
	if !slices.Equal(got, want) {
		fail("Error: Submit results differ from sequential run")
	}
	results = append(results, sub)

	mapped, got, err := runMap(p, name, args, *chunkFlag)
	if err != nil {
		fail("Error: %v", err)
	}
	if !slices.Equal(got, want) {
		fail("Error: Map results differ from sequential run")
	}
	results = append(results, mapped)

	printComparisonTable(results)
	_, _ = green.Println("All modes produced identical results.")
}
