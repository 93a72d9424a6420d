package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/mipsim/datarecording"
	"github.com/sarchlab/mipsim/mem"
	"github.com/sarchlab/mipsim/mem/cache"
	"github.com/sarchlab/mipsim/mem/cache/l2"
	"github.com/sarchlab/mipsim/monitoring"
	"github.com/sarchlab/mipsim/sim"
)

var runFlags struct {
	tracePath  string
	numCores   int
	policyName string
	inclusion  string
	numMSHRs   int
	maxCycles  uint64
	statsDB    string
	monitor    bool
	port       int
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a memory reference trace through the hierarchy.",
	Long: `Run reads a trace with one reference per line:

    [core] fetch <addr>
    [core] load  <addr>
    [core] store <addr> <value>

Addresses and values are hex. The core id defaults to 0. References on
the same core are issued back to back, honoring the blocking stall
contract a pipeline would.`,
	RunE: runTrace,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.tracePath, "trace", "",
		"trace file to execute (required)")
	runCmd.Flags().IntVar(&runFlags.numCores, "cores", 1,
		"number of simulated cores")
	runCmd.Flags().StringVar(&runFlags.policyName, "policy", "lru",
		"replacement policy: lru, dip, drrip, or eaf")
	runCmd.Flags().StringVar(&runFlags.inclusion, "inclusion", "inclusive",
		"L2 inclusion policy: inclusive, exclusive, or nine")
	runCmd.Flags().IntVar(&runFlags.numMSHRs, "mshrs", 16,
		"number of L2 MSHRs")
	runCmd.Flags().Uint64Var(&runFlags.maxCycles, "max-cycles", 10_000_000,
		"abort the run after this many cycles")
	runCmd.Flags().StringVar(&runFlags.statsDB, "stats-db", "",
		"SQLite stats database name (empty picks a unique one)")
	runCmd.Flags().BoolVar(&runFlags.monitor, "monitor", false,
		"serve live progress over HTTP")
	runCmd.Flags().IntVar(&runFlags.port, "port", 0,
		"monitoring port (0 picks a free one)")

	_ = runCmd.MarkFlagRequired("trace")

	rootCmd.AddCommand(runCmd)
}

type traceRef struct {
	core    int
	isFetch bool
	isWrite bool
	addr    uint32
	value   uint32
}

func runTrace(cmd *cobra.Command, args []string) error {
	refs, err := parseTrace(runFlags.tracePath)
	if err != nil {
		return err
	}

	policyKind, err := cache.ParsePolicy(runFlags.policyName)
	if err != nil {
		return err
	}

	inclusion, err := l2.ParseInclusionPolicy(runFlags.inclusion)
	if err != nil {
		return err
	}

	simulator := sim.MakeBuilder().
		WithNumCores(runFlags.numCores).
		WithNumMSHRs(runFlags.numMSHRs).
		WithPolicy(policyKind).
		WithInclusion(inclusion).
		Build()

	if runFlags.monitor {
		monitoring.NewMonitor().
			WithSimulator(simulator).
			WithPortNumber(runFlags.port).
			StartServer()
	}

	if err := execute(simulator, refs); err != nil {
		return err
	}

	reportStats(simulator)

	return nil
}

func parseTrace(path string) ([]traceRef, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var refs []traceRef
	scanner := bufio.NewScanner(file)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		ref := traceRef{}

		if core, convErr := strconv.Atoi(fields[0]); convErr == nil {
			ref.core = core
			fields = fields[1:]
		}

		if len(fields) < 2 {
			return nil, fmt.Errorf("%s:%d: malformed reference", path, lineNo)
		}

		switch fields[0] {
		case "fetch":
			ref.isFetch = true
		case "load":
		case "store":
			ref.isWrite = true
		default:
			return nil, fmt.Errorf(
				"%s:%d: unknown operation %q", path, lineNo, fields[0])
		}

		addr, convErr := strconv.ParseUint(
			strings.TrimPrefix(fields[1], "0x"), 16, 32)
		if convErr != nil {
			return nil, fmt.Errorf("%s:%d: bad address", path, lineNo)
		}
		ref.addr = uint32(addr)

		if ref.isWrite {
			if len(fields) < 3 {
				return nil, fmt.Errorf(
					"%s:%d: store needs a value", path, lineNo)
			}
			value, convErr := strconv.ParseUint(
				strings.TrimPrefix(fields[2], "0x"), 16, 32)
			if convErr != nil {
				return nil, fmt.Errorf("%s:%d: bad value", path, lineNo)
			}
			ref.value = uint32(value)
		}

		refs = append(refs, ref)
	}

	return refs, scanner.Err()
}

// execute issues the references in order, each core blocking on its
// own outstanding reference the way an in-order pipeline would.
func execute(simulator *sim.Simulator, refs []traceRef) error {
	next := make([]int, simulator.NumCores())
	perCore := make([][]traceRef, simulator.NumCores())

	for _, ref := range refs {
		if ref.core < 0 || ref.core >= simulator.NumCores() {
			return fmt.Errorf("reference for core %d, but only %d cores",
				ref.core, simulator.NumCores())
		}
		perCore[ref.core] = append(perCore[ref.core], ref)
	}

	remaining := len(refs)

	for remaining > 0 {
		if simulator.Now() > runFlags.maxCycles {
			return fmt.Errorf(
				"no progress after %d cycles", runFlags.maxCycles)
		}

		for core := 0; core < simulator.NumCores(); core++ {
			if next[core] >= len(perCore[core]) {
				continue
			}

			ref := perCore[core][next[core]]
			if issue(simulator, ref).Kind == mem.AccessHit {
				next[core]++
				remaining--
			}
		}

		simulator.Tick()
	}

	return nil
}

func issue(simulator *sim.Simulator, ref traceRef) mem.AccessResult {
	switch {
	case ref.isFetch:
		return simulator.Fetch(ref.core, ref.addr)
	case ref.isWrite:
		return simulator.Store(ref.core, ref.addr, ref.value)
	default:
		return simulator.Load(ref.core, ref.addr)
	}
}

func reportStats(simulator *sim.Simulator) {
	recorder := datarecording.New(runFlags.statsDB)

	type statRow struct {
		Component string
		Metric    string
		Value     uint64
	}

	recorder.CreateTable("stats", statRow{})

	record := func(component, metric string, value uint64) {
		recorder.InsertData("stats", statRow{component, metric, value})
		fmt.Printf("%-12s %-18s %d\n", component, metric, value)
	}

	record("sim", "cycles", simulator.Now())

	dramStats := simulator.DRAM().Stats
	record("dram", "row_hits", dramStats.RowHits)
	record("dram", "row_empties", dramStats.RowEmpties)
	record("dram", "row_conflicts", dramStats.RowConflicts)
	record("dram", "retired", dramStats.Retired)

	l2Stats := simulator.L2().Stats
	record("l2", "hits", l2Stats.Hits)
	record("l2", "misses", l2Stats.Misses)
	record("l2", "coalesced", l2Stats.Coalesced)
	record("l2", "busy_stalls", l2Stats.BusyStalls)
	record("l2", "writebacks", l2Stats.Writebacks)
	record("l2", "back_invalidations", l2Stats.BackInvalidations)
	record("l2", "mshr_high_water", uint64(l2Stats.MSHRHighWater))

	for i := 0; i < simulator.NumCores(); i++ {
		ic := simulator.Core(i).ICache.Stats
		record(fmt.Sprintf("core%d.l1i", i), "hits", ic.Hits)
		record(fmt.Sprintf("core%d.l1i", i), "misses", ic.Misses)

		dc := simulator.Core(i).DCache.Stats
		record(fmt.Sprintf("core%d.l1d", i), "hits", dc.Hits)
		record(fmt.Sprintf("core%d.l1d", i), "misses", dc.Misses)
		record(fmt.Sprintf("core%d.l1d", i), "upgrade_misses",
			dc.UpgradeMisses)
	}

	recorder.Flush()
}
