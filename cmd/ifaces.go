package cmd

import (
	"fmt"
	"os"

	"github.com/google/gopacket/pcap"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var ifacesYAML bool

// ifaceEntry is the YAML shape of one interface, directly pasteable into the
// config file's interfaces list.
type ifaceEntry struct {
	Device  string `yaml:"device"`
	Address string `yaml:"address,omitempty"`
}

var ifacesCmd = &cobra.Command{
	Use:   "ifaces",
	Short: "List capturable host interfaces",
	Long: `
List the interfaces the host exposes for raw capture, with their first IPv4
address. With --yaml the output is a config snippet for the interfaces key.
`,
	Run: func(cmd *cobra.Command, args []string) {
		ifs, err := pcap.FindAllDevs()
		if err != nil {
			exitWithError("interface enumeration failed", err)
		}

		var entries []ifaceEntry
		for _, ifc := range ifs {
			entry := ifaceEntry{Device: ifc.Name}
			for _, a := range ifc.Addresses {
				if ip4 := a.IP.To4(); ip4 != nil {
					entry.Address = ip4.String()
					break
				}
			}
			entries = append(entries, entry)
		}

		if ifacesYAML {
			out, err := yaml.Marshal(map[string][]ifaceEntry{"interfaces": entries})
			if err != nil {
				exitWithError("yaml encoding failed", err)
			}
			os.Stdout.Write(out)
			return
		}
		for _, e := range entries {
			if e.Address != "" {
				fmt.Printf("%-16s %s\n", e.Device, e.Address)
			} else {
				fmt.Printf("%-16s -\n", e.Device)
			}
		}
	},
}

func init() {
	ifacesCmd.Flags().BoolVar(&ifacesYAML, "yaml", false, "print as a config snippet")
	rootCmd.AddCommand(ifacesCmd)
}
