package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ldacruz94/topiclog/internal/config"
	"github.com/ldacruz94/topiclog/internal/consumer"
	"github.com/ldacruz94/topiclog/internal/log"
)

// Record is the JSON form of a message printed by the read command.
type Record struct {
	Offset uint64 `json:"offset"`
	Value  string `json:"value"`
}

type app struct {
	configPath string
	root       string
	group      string

	cfg    log.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "topiclog",
		Short: "Inspect and write to a local segmented topic log",
		Long: `topiclog appends to and reads from the topics of a local log store.
Each topic is a directory of segment files under the storage root.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.root, "root", "data", "storage root directory (ignored with --config)")
	rootCmd.PersistentFlags().StringVar(&a.group, "group", "cli", "consumer group name")

	rootCmd.AddCommand(a.newCreateCommand())
	rootCmd.AddCommand(a.newAppendCommand())
	rootCmd.AddCommand(a.newReadCommand())
	rootCmd.AddCommand(a.newInfoCommand())

	return rootCmd
}

// setup loads the configuration and builds the logger shared by every
// subcommand.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	c := config.Default(a.root)
	if a.configPath != "" {
		var err error
		if c, err = config.Load(a.configPath); err != nil {
			return err
		}
	}

	logger, err := config.NewLogger(c.LogLevel)
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	a.logger = logger
	a.cfg = c.LogConfig(logger)
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.logger != nil {
		// stderr syncs fail on some terminals; nothing to report
		_ = a.logger.Sync()
	}
	return nil
}

func (a *app) newCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <topic>",
		Short: "Create an empty topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := log.Create(args[0], a.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s in %s\n", t.Name(), t.BaseDirectory())
			return t.Close()
		},
	}
}

func (a *app) newAppendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "append <topic> <payload>",
		Short: "Append a message, creating the topic if needed",
		Long: `Append stores the payload as the next message of the topic and prints
the offset the following message will receive.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g := consumer.New(a.group, a.cfg)
			next, err := g.Append(args[0], []byte(args[1]))
			if err != nil {
				g.Close()
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return g.Close()
		},
	}
}

func (a *app) newReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read <topic> <offset>",
		Short: "Print the message stored at an offset as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid offset %q", args[1])
			}

			g := consumer.New(a.group, a.cfg)
			defer g.Close()
			msg, err := g.Read(args[0], off)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(Record{Offset: msg.Offset, Value: string(msg.Value)})
		},
	}
}

func (a *app) newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <topic>",
		Short: "Show a topic's next offset and segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := log.Load(args[0], a.cfg)
			if err != nil {
				return err
			}
			defer t.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "topic:       %s\n", t.Name())
			fmt.Fprintf(out, "directory:   %s\n", t.BaseDirectory())
			fmt.Fprintf(out, "next offset: %d\n", t.NextOffset())
			var total uint64
			for _, s := range t.Segments() {
				state := "sealed"
				if s.Active {
					state = "active"
				}
				fmt.Fprintf(out, "segment %020d  [%d, %d)  %s  %s\n",
					s.BaseOffset, s.BaseOffset, s.NextOffset, bytefmt.ByteSize(s.Size), state)
				total += s.Size
			}
			fmt.Fprintf(out, "total size:  %s\n", bytefmt.ByteSize(total))
			return nil
		},
	}
}
