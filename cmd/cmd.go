package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ollama/kvappend/envconfig"
	"github.com/ollama/kvappend/logutil"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kvappend",
		Short: "Inspect, verify and benchmark the KV cache append kernels",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
		},
	}

	cobra.EnableCommandSorting = false

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show CPU capabilities and the kernel selected for each dtype",
		Args:  cobra.NoArgs,
		RunE:  InfoHandler,
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every kernel writes the same bytes as the scalar kernel",
		Args:  cobra.NoArgs,
		RunE:  VerifyHandler,
	}

	verifyCmd.Flags().String("dtype", "f32,f16,bf16", "Comma separated dtypes to verify")
	verifyCmd.Flags().Int("max-heads", 8, "Largest number of heads to try")
	verifyCmd.Flags().Int("max-head-dim", 40, "Largest head dimension to try")
	verifyCmd.Flags().Int("max-tokens", 4, "Largest number of tokens per append")
	verifyCmd.Flags().Uint64("seed", 0, "Random seed")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure append throughput for a model-shaped cache",
		Args:  cobra.NoArgs,
		RunE:  BenchHandler,
	}

	benchCmd.Flags().String("dtype", "f16", "Cache dtype (f32, f16, bf16)")
	benchCmd.Flags().Int("heads", 8, "Number of KV heads")
	benchCmd.Flags().Int("head-dim", 128, "Head dimension")
	benchCmd.Flags().Int("layers", 32, "Number of layers")
	benchCmd.Flags().Int("tokens", 2048, "Tokens appended to each layer")
	benchCmd.Flags().Int("batch", 1, "Tokens per append")
	benchCmd.Flags().Int("parallel", 0, "Layers appended concurrently (default GOMAXPROCS)")
	benchCmd.Flags().String("kernel", "all", "Kernel to run: auto, scalar, vector or all")

	rootCmd.AddCommand(
		infoCmd,
		verifyCmd,
		benchCmd,
	)

	return rootCmd
}
