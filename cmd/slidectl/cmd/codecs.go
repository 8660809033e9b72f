package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/gracefulearth/goslide"
	"github.com/spf13/cobra"
)

func NewCodecsCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codecs",
		Short: "list the registered codecs and the extensions they open",
		Run: func(cmd *cobra.Command, args []string) {
			for _, desc := range goslide.DefaultRegistry.Descriptors() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s priority %d: %s\n", desc.Name, desc.Priority, strings.Join(desc.Extensions, " "))
			}
		},
	}
	return cmd
}
