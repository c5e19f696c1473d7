package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigbag/meshrelay/internal/protocol"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag      string
	modemPortFlag   string
	feedPortFlag    string
	baudFlag        int
	metricsAddrFlag string

	chunkFlag  int
	outputFlag string
	showFlag   bool

	payloadFlag   string
	headerLenFlag uint8
	networkIDFlag uint16
	outFlag       string

	forceFlag bool
	probeFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshrelay",
		Short: "Mesh radio relay node",
		Long: `meshrelay decodes framed packets from a serial byte stream, receives
messages from a LoRa modem, and re-broadcasts messages carrying the
forward marker until the node's hop ceiling is reached.`,
		SilenceUsage: true,
	}

	// Run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay node",
		Long: `Run the relay node until interrupted.

The radio modem is opened on --modem-port (or radio.port in the config).
Without a modem the node runs dry: relayed messages are kept in memory.
A framed byte stream is read from --feed-port (or feed.port) when set.`,
		Args: cobra.NoArgs,
		RunE: runRelay,
	}
	runCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Config file (embedded defaults if not specified)")
	runCmd.Flags().StringVarP(&modemPortFlag, "modem-port", "p", "", "Serial port of the LoRa modem (\"auto\" to detect)")
	runCmd.Flags().StringVarP(&feedPortFlag, "feed-port", "f", "", "Serial port carrying the framed byte stream")
	runCmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate for both ports")
	runCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve /metrics, /stats and /healthz on this address")

	// Replay command
	replayCmd := &cobra.Command{
		Use:   "replay <capture.bin>",
		Short: "Decode a captured byte stream",
		Long: `Feed a captured byte stream through the decoder and forward controller.

Relayed messages are collected in memory and listed at the end together
with the node statistics.`,
		Args: cobra.ExactArgs(1),
		RunE: runReplay,
	}
	replayCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Config file (embedded defaults if not specified)")
	replayCmd.Flags().IntVar(&chunkFlag, "chunk", 64, "Bytes fed per step")
	replayCmd.Flags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json or yaml")
	replayCmd.Flags().BoolVar(&showFlag, "show", false, "Print decoded messages as they arrive")

	// Encode command
	encodeCmd := &cobra.Command{
		Use:   "encode",
		Short: "Build a framed packet",
		Long:  "Encode a payload into a frame. Prints hex unless --out is given.",
		Args:  cobra.NoArgs,
		RunE:  runEncode,
	}
	encodeCmd.Flags().StringVar(&payloadFlag, "payload", "", "Payload text")
	encodeCmd.Flags().Uint8Var(&headerLenFlag, "header-len", protocol.MinHeaderLength, "Header length (20-30)")
	encodeCmd.Flags().Uint16Var(&networkIDFlag, "network-id", protocol.DefaultNetworkID, "Network ID written to the header")
	encodeCmd.Flags().StringVar(&outFlag, "out", "", "Write the raw frame to this file")
	_ = encodeCmd.MarkFlagRequired("payload")

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default config",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
	configInitCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("meshrelay %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}
	listCmd.Flags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json or yaml")
	listCmd.Flags().BoolVar(&probeFlag, "probe", false, "Probe each port for an AT modem")
	listCmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate used when probing")

	rootCmd.AddCommand(runCmd, replayCmd, encodeCmd, configCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
