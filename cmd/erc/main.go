// erc is the host-side driver for a YASNAC ERC series robot: it
// transfers jobs, system tables and variable data over the 9600 baud
// host link and issues system control commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/treeherder/yasnac/pkg/config"
	"github.com/treeherder/yasnac/pkg/erc"
	"github.com/treeherder/yasnac/pkg/link"
	"github.com/treeherder/yasnac/pkg/storage"
)

const defaultBaud = 9600

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:           "erc",
		Short:         "Talk to a YASNAC ERC series robot over its serial host link",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	command.PersistentFlags().StringP("port", "p", "", "serial port to use")
	command.PersistentFlags().IntP("baud", "b", defaultBaud, "serial port baudrate to use")
	command.PersistentFlags().BoolP("overwrite", "o", false, "allow existing files to be overwritten")
	command.PersistentFlags().BoolP("debug", "d", false, "enable debugging output")
	command.PersistentFlags().String("dir", "", "directory holding job files and system tables")
	command.PersistentFlags().StringP("config", "c", "", "settings file (default yasnac.ini if present)")

	command.AddCommand(newServeCommand())
	command.AddCommand(newPutCommand())
	command.AddCommand(newGetCommand())
	command.AddCommand(newCommandCommand())
	command.AddCommand(newServoCommand())
	command.AddCommand(newStartCommand())
	command.AddCommand(newHoldCommand())
	return command
}

// connect opens the serial link and builds a Robot from the merged
// settings
func connect(cmd *cobra.Command) (*erc.Robot, *link.SerialLink, error) {
	configPath, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("port") {
		settings.Serial.Port, _ = cmd.Flags().GetString("port")
	}
	if cmd.Flags().Changed("baud") {
		settings.Serial.Baud, _ = cmd.Flags().GetInt("baud")
	}
	if cmd.Flags().Changed("overwrite") {
		settings.Storage.Overwrite, _ = cmd.Flags().GetBool("overwrite")
	}
	if cmd.Flags().Changed("dir") {
		settings.Storage.Dir, _ = cmd.Flags().GetString("dir")
	}
	if settings.Serial.Baud == 0 {
		settings.Serial.Baud = defaultBaud
	}

	debug, _ := cmd.Flags().GetBool("debug")
	level := slog.LevelInfo
	if debug {
		log.SetLevel(log.DebugLevel)
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	serialLink, err := link.OpenSerial(settings.Serial.Port, settings.Serial.Baud, logger)
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewStore(settings.Storage.Dir, settings.Storage.Overwrite, nil, logger)
	return erc.NewRobot(serialLink, store, logger), serialLink, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve incoming transactions from the robot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			robot, serialLink, err := connect(cmd)
			if err != nil {
				return err
			}
			defer serialLink.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				serialLink.Close()
			}()

			log.Info("serving robot transactions")
			err = robot.Loop(ctx)
			if ctx.Err() != nil {
				log.Info("exiting on interrupt")
				return nil
			}
			return err
		},
	}
}

func newPutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <file> [file ...]",
		Short: "Send job files or system tables to the robot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			robot, serialLink, err := connect(cmd)
			if err != nil {
				return err
			}
			defer serialLink.Close()
			for _, filename := range args {
				if err := robot.PutFile(filename); err != nil {
					return err
				}
				log.Infof("sent %v", filename)
			}
			return nil
		},
	}
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <file> [file ...]",
		Short: "Fetch job files or system tables from the robot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			robot, serialLink, err := connect(cmd)
			if err != nil {
				return err
			}
			defer serialLink.Close()
			for _, filename := range args {
				stored, err := robot.GetFile(filename)
				if err != nil {
					return err
				}
				log.Infof("stored %v", stored)
			}
			return nil
		},
	}
}

func newCommandCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "command <text ...>",
		Short: "Issue a system control command and print its response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			robot, serialLink, err := connect(cmd)
			if err != nil {
				return err
			}
			defer serialLink.Close()
			values, err := robot.ExecuteCommand(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if values != nil {
				fmt.Println(strings.Join(values, ","))
			}
			return nil
		},
	}
}

func newServoCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "servo on|off",
		Short:     "Switch the servo power",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			robot, serialLink, err := connect(cmd)
			if err != nil {
				return err
			}
			defer serialLink.Close()
			return robot.ServoPower(args[0] == "on")
		},
	}
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start [job]",
		Short: "Run a job, or resume the current one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			robot, serialLink, err := connect(cmd)
			if err != nil {
				return err
			}
			defer serialLink.Close()
			job := ""
			if len(args) > 0 {
				job = args[0]
			}
			return robot.Start(job)
		},
	}
}

func newHoldCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "hold on|off",
		Short:     "Stop the robot, or clear the stop flag",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			robot, serialLink, err := connect(cmd)
			if err != nil {
				return err
			}
			defer serialLink.Close()
			return robot.Hold(args[0] == "on")
		},
	}
}
