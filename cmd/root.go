// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "anser",
	Short: "Anser - user-space TCP/IP stack over raw packet capture",
	Long: `Anser is a user-space implementation of the lower three layers of the
Internet protocol stack, built directly atop raw packet I/O. It drives a set
of capture endpoints through a single readiness loop, forwards and routes
IPv4 datagrams with distributed link-state routing, and serves a socket-style
byte-stream interface to applications without touching the kernel's
networking stack.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/anser/config.yml",
		"config file path")
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
