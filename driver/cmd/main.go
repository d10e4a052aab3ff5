package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Scusemua/go-utils/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

const (
	ServiceName = "cluster-driver"
)

var (
	globalLogger = config.GetLogger("")
	sig          = make(chan os.Signal, 1)
)

func init() {
	lipgloss.SetColorProfile(termenv.ANSI256)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cluster-driver",
		Short:         "Launch and supervise a cluster of training nodes on an execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand(), newPlanCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
