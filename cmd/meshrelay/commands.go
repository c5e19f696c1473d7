package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/meshrelay/embedded"
	"github.com/bigbag/meshrelay/internal/config"
	"github.com/bigbag/meshrelay/internal/detect"
	"github.com/bigbag/meshrelay/internal/display"
	"github.com/bigbag/meshrelay/internal/logging"
	"github.com/bigbag/meshrelay/internal/node"
	"github.com/bigbag/meshrelay/internal/output"
	"github.com/bigbag/meshrelay/internal/protocol"
	"github.com/bigbag/meshrelay/internal/radio"
	"github.com/bigbag/meshrelay/internal/serial"
	"github.com/bigbag/meshrelay/internal/server"
	"github.com/bigbag/meshrelay/internal/stats"
	"github.com/bigbag/meshrelay/internal/transform"
)

func loadConfig() (config.Config, error) {
	if configFlag != "" {
		return config.Load(configFlag)
	}
	cfg, err := config.Default()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, config.Validate(cfg)
}

func nodeOptions(cfg config.Config, logger zerolog.Logger) node.Options {
	return node.Options{
		BufferCapacity: cfg.Decoder.BufferCapacity,
		ForwardMarker:  cfg.Forward.Marker,
		MaxHops:        cfg.Forward.MaxHops,
		PollInterval:   cfg.Node.PollInterval.Duration,
		StallTimeout:   cfg.Node.StallTimeout.Duration,
		Logger:         logger,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("modem-port") {
		cfg.Radio.Port = modemPortFlag
	}
	if flags.Changed("feed-port") {
		cfg.Feed.Port = feedPortFlag
	}
	if flags.Changed("baud") {
		cfg.Radio.Baud = baudFlag
		cfg.Feed.Baud = baudFlag
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddrFlag
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := logging.New("meshrelay", cfg.Log.Level, os.Stderr)

	var mirrors []stats.Sink
	var prom *stats.PromSink
	if cfg.Metrics.Addr != "" {
		prom = stats.NewPromSink(cfg.NodeName)
		mirrors = append(mirrors, prom)
	}
	st := stats.New(cfg.NetworkID, mirrors...)

	tr, err := transform.New(cfg.Transform.Name, []byte(cfg.Transform.Key), cfg.Transform.Debug, logger)
	if err != nil {
		return err
	}

	if cfg.Radio.Port == detect.AutoPort {
		fmt.Println("Detecting modem...")
		result, err := detect.New().DetectModem(cfg.Radio.Baud)
		if err != nil {
			return fmt.Errorf("modem detection failed: %w", err)
		}
		cfg.Radio.Port = result.Port
		fmt.Printf("Found modem on %s\n", result.Port)
	}

	var tx radio.Transport
	if cfg.Radio.Port != "" {
		port, err := serial.Open(cfg.Radio.Port, cfg.Radio.Baud)
		if err != nil {
			return fmt.Errorf("failed to open modem port: %w", err)
		}
		modem := radio.NewModem(port, radio.ModemOptions{
			Address:      cfg.Radio.Address,
			ReplyTimeout: cfg.Radio.ReplyTimeout.Duration,
			Logger:       logger,
		})
		defer modem.Close()
		tx = modem
		fmt.Printf("Modem: %s @ %d baud\n", cfg.Radio.Port, cfg.Radio.Baud)
	} else {
		logger.Warn().Msg("no modem port configured, relayed messages stay in memory")
		tx = radio.NewMemory()
	}

	var disp display.Display = display.Nop{}
	if cfg.Display.Enabled {
		disp = display.NewConsole(os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	var queue *node.ByteQueue
	if cfg.Feed.Port != "" {
		feed, err := serial.Open(cfg.Feed.Port, cfg.Feed.Baud)
		if err != nil {
			return fmt.Errorf("failed to open feed port: %w", err)
		}
		defer feed.Close()
		fmt.Printf("Feed:  %s @ %d baud\n", cfg.Feed.Port, cfg.Feed.Baud)

		queue = node.NewByteQueue(0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := node.Pump(ctx, feed, queue); err != nil {
				logger.Error().Err(err).Str("port", cfg.Feed.Port).Msg("feed read failed")
				stop()
			}
		}()
	}

	if cfg.Metrics.Addr != "" {
		srv := server.New(cfg.NodeName, cfg.Metrics.Addr, st, prom, cfg.Metrics.CorsOrigins, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server failed")
			}
		}()
	}

	disp.ShowStatus(fmt.Sprintf("%s ready (network 0x%04X)", cfg.NodeName, cfg.NetworkID))

	n := node.New(node.Deps{
		Radio:     tx,
		Display:   disp,
		Transform: tr,
		Stats:     st,
		Queue:     queue,
	}, nodeOptions(cfg, logger))

	if err := n.Run(ctx); err != nil {
		return err
	}
	stop()
	wg.Wait()

	fmt.Println("\nStatistics:")
	return printFormatted("table", st.Snapshot())
}

type replayReport struct {
	Source  string         `json:"source" yaml:"source"`
	Bytes   int            `json:"bytes" yaml:"bytes"`
	Relayed []string       `json:"relayed" yaml:"relayed"`
	Stats   stats.Snapshot `json:"stats" yaml:"stats"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := args[0]
	formatter, err := output.New(outputFlag)
	if err != nil {
		return err
	}
	if chunkFlag <= 0 {
		return fmt.Errorf("chunk must be positive, got %d", chunkFlag)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read capture file: %w", err)
	}

	logger := logging.New("meshrelay", cfg.Log.Level, os.Stderr)
	tr, err := transform.New(cfg.Transform.Name, []byte(cfg.Transform.Key), cfg.Transform.Debug, logger)
	if err != nil {
		return err
	}

	var disp display.Display = display.Nop{}
	if showFlag {
		disp = display.NewConsole(os.Stdout)
	}

	mem := radio.NewMemory()
	st := stats.New(cfg.NetworkID)
	n := node.New(node.Deps{
		Radio:     mem,
		Display:   disp,
		Transform: tr,
		Stats:     st,
	}, nodeOptions(cfg, logger))

	bar := progressbar.NewOptions(len(data),
		progressbar.OptionSetDescription("Replaying"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	for off := 0; off < len(data); off += chunkFlag {
		end := min(off+chunkFlag, len(data))
		n.FeedBytes(data[off:end])
		_ = bar.Add(end - off)
	}
	_ = bar.Finish()

	if n.Decoder().InProgress() {
		logger.Warn().
			Int("buffered", n.Decoder().Buffered()).
			Str("state", n.Decoder().State().String()).
			Msg("capture ends inside a frame")
	}

	sent := mem.Sent()
	report := replayReport{
		Source:  path,
		Bytes:   len(data),
		Relayed: make([]string, len(sent)),
		Stats:   st.Snapshot(),
	}
	for i, s := range sent {
		report.Relayed[i] = string(s)
	}

	if _, ok := formatter.(output.TableFormatter); !ok {
		return printFormatted(outputFlag, report)
	}

	fmt.Printf("Capture: %s (%d bytes)\n", path, len(data))
	if len(report.Relayed) > 0 {
		fmt.Printf("Relayed %d message(s):\n", len(report.Relayed))
		for _, r := range report.Relayed {
			fmt.Printf("  %s\n", r)
		}
	}
	fmt.Println("\nStatistics:")
	return printFormatted(outputFlag, report.Stats)
}

func runEncode(cmd *cobra.Command, args []string) error {
	raw, err := protocol.Encode([]byte(payloadFlag), protocol.Options{
		HeaderLength: headerLenFlag,
		NetworkID:    networkIDFlag,
	})
	if err != nil {
		return err
	}

	if outFlag == "" {
		fmt.Printf("% X\n", raw)
		return nil
	}
	if err := os.WriteFile(outFlag, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(raw), outFlag)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "relay.toml"
	if len(args) == 1 {
		path = args[0]
	}

	if !forceFlag {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if err := os.WriteFile(path, embedded.RelayConfig(), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	if probeFlag {
		fmt.Println("Probing serial ports...")
		modems, err := detect.New().ListModems(baudFlag)
		if err != nil {
			return err
		}
		if len(modems) == 0 {
			fmt.Println("No modems found")
			return nil
		}
		return printFormatted(outputFlag, modems)
	}

	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	return printFormatted(outputFlag, ports)
}

func printFormatted(format string, data any) error {
	f, err := output.New(format)
	if err != nil {
		return err
	}
	out, err := f.Format(data)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
