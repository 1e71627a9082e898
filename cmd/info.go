package cmd

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ollama/kvappend/discover"
	"github.com/ollama/kvappend/envconfig"
	"github.com/ollama/kvappend/kvcache"
	"github.com/ollama/kvappend/ml"
)

func InfoHandler(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	caps := discover.GetCPUCapabilities()

	variant := caps.Variant()
	if variant == "" {
		variant = "none"
	}

	fmt.Fprintln(out, "CPU:")
	writeTable(out, []string{"ARCH", "FEATURES", "VECTOR", "WIDTH"}, [][]string{
		{caps.Arch, caps.String(), variant, strconv.Itoa(caps.VectorWidth() * 8)},
	})

	var rows [][]string
	for _, dtype := range ml.DTypes {
		k := kvcache.KernelFor(dtype)
		rows = append(rows, []string{dtype.String(), strconv.Itoa(dtype.Size()), k.Name, strconv.Itoa(k.Lanes)})
	}

	fmt.Fprintln(out, "\nKernels:")
	writeTable(out, []string{"DTYPE", "WIDTH", "KERNEL", "LANES"}, rows)

	vars := envconfig.AsMap()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)

	rows = rows[:0]
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprintf("%v", vars[name].Value), vars[name].Description})
	}

	fmt.Fprintln(out, "\nEnvironment:")
	writeTable(out, []string{"NAME", "VALUE", "DESCRIPTION"}, rows)
	return nil
}
