// Command mipsim runs the memory hierarchy against a trace of memory
// references and reports the hierarchy's statistics at the end of the
// run. Per-reference fill latencies are not reported.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var rootCmd = &cobra.Command{
	Use:   "mipsim",
	Short: "A cycle-level simulator of a MIPS32 memory hierarchy.",
	Long: `mipsim simulates the memory hierarchy of a multi-core MIPS32 ` +
		`processor: split L1 caches, a shared non-blocking L2, and a ` +
		`bank-interleaved DRAM controller with FR-FCFS scheduling.`,
}

func main() {
	// Load a .env file into the process environment, if present. No
	// flag reads the environment, so it does not change any default.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}

	atexit.Exit(0)
}
