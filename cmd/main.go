package main

import (
	"fmt"
	"net"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sacngen/internal/artnet"
	"sacngen/internal/clientmqtt"
	"sacngen/internal/config"
	"sacngen/internal/preset"
	"sacngen/internal/sacn"
	"sacngen/internal/wave"
)

type rootFlags struct {
	configFile string
	script     string
	dryRun     bool
	logLevel   string
	keepOpen   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "sacngen",
		Short: "sACN (E1.31) test traffic generator",
		Long: `sacngen sends sACN universe data driven by text commands read from
stdin, a script file or an MQTT topic. It plays the interoperability test
presets at a controlled rate to exercise receivers and visualizers.`,
		Example: `  sacngen --script configs/acceptance.txt
  echo "a 1 1 255" | sacngen --dry-run --log-level debug`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig(flags.configFile, cmd.Flags().Changed("config"))
			if err != nil {
				return fmt.Errorf("configuration file read error: %w", err)
			}
			if flags.logLevel != "" {
				cfg.Logger.Level = flags.logLevel
			}
			return run(cmd.Context(), cfg, flags)
		},
	}

	cmd.Flags().StringVar(&flags.configFile, "config", "configs/conf.toml", "Path to configuration file (toml or yaml)")
	cmd.Flags().StringVar(&flags.script, "script", "", "Read commands from this file instead of stdin")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Log packets instead of sending them")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&flags.keepOpen, "keep-open", false, "Keep running after the script ends, until a signal or terminate")

	cmd.AddCommand(newPresetsCmd())
	return cmd
}

func newPresetsCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List the test presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig(configFile, cmd.Flags().Changed("config"))
			if err != nil {
				return fmt.Errorf("configuration file read error: %w", err)
			}
			table := newTable(cfg)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tUNIVERSES\tSYNC\tUNICAST\tLENGTH")
			for _, p := range table.List() {
				length := p.Duration
				if p.Stepped() {
					length = time.Duration(p.Steps) * p.Dwell
				}
				fmt.Fprintf(w, "%d\t%s\t%v\t%d\t%v\t%v\n", p.ID, p.Name, p.Universes, p.Sync, p.Unicast, length)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file (toml or yaml)")
	return cmd
}

func newTable(cfg *config.Config) *preset.Table {
	return preset.NewTable(wave.DefaultLayout(), cfg.Timing.PresetDuration.Duration, cfg.Timing.AcceptanceDwell.Duration)
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:     cfg.ClientID,
		Schema:       "tcp",
		Host:         cfg.Host,
		Port:         cfg.Port,
		User:         cfg.User,
		Password:     cfg.Password,
		Qos:          cfg.Qos,
		CommandTopic: cfg.CommandTopic,
		StatusTopic:  cfg.StatusTopic,
	}
}

// ConvertConfigArtNet преобразует структуры.
func ConvertConfigArtNet(cfg config.ArtNetConf) artnet.Conf {
	return artnet.Conf{
		CIDR:   cfg.CIDR,
		Name:   cfg.Name,
		MaxFPS: cfg.MaxFPS,
	}
}

// ConvertConfigSource преобразует структуры.
func ConvertConfigSource(cfg config.SourceConf) (sacn.Options, error) {
	opts := sacn.Options{
		Name:      cfg.Name,
		Interface: cfg.Interface,
		TTL:       cfg.TTL,
		Loopback:  cfg.Loopback,
		Priority:  cfg.Priority,
		Broadcast: cfg.Broadcast,
	}
	if cfg.CID != "" {
		cid, err := uuid.Parse(cfg.CID)
		if err != nil {
			return opts, fmt.Errorf("source.cid: %w", err)
		}
		opts.CID = cid
	}
	if cfg.Bind != "" {
		opts.Bind = net.ParseIP(cfg.Bind)
	}
	return opts, nil
}
