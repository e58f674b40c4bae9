// MotoDisk: a software emulator for the YASNAC FC1 floppy disk drive.
// It allows a YASNAC ERC series robot to use unlimited storage on a
// host PC.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/treeherder/yasnac/pkg/config"
	"github.com/treeherder/yasnac/pkg/fc1"
	"github.com/treeherder/yasnac/pkg/link"
	"github.com/treeherder/yasnac/pkg/storage"
)

const defaultBaud = 4800

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "motodisk [file ...]",
		Short: "Emulate the YASNAC FC1 floppy disk drive",
		Long: "Emulate the YASNAC FC1 floppy disk drive. Optional positional\n" +
			"arguments restrict the files available to the robot, for example\n" +
			"to offer a single job instead of every .JBI in the directory.",
		Args: cobra.ArbitraryArgs,
		RunE: run,
	}
	command.Flags().StringP("port", "p", "", "serial port to use")
	command.Flags().IntP("baud", "b", defaultBaud, "serial port baudrate to use")
	command.Flags().BoolP("overwrite", "o", false, "allow existing files to be overwritten")
	command.Flags().BoolP("debug", "d", false, "enable debugging output")
	command.Flags().String("dir", "", "directory holding the job files")
	command.Flags().StringP("config", "c", "", "settings file (default yasnac.ini if present)")
	return command
}

func run(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	configPath, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, &settings)
	if len(args) > 0 {
		settings.Storage.Whitelist = args
	}
	if settings.Serial.Baud == 0 {
		settings.Serial.Baud = defaultBaud
	}

	debug, _ := cmd.Flags().GetBool("debug")
	logger := newLogger(debug)

	serialLink, err := link.OpenSerial(settings.Serial.Port, settings.Serial.Baud, logger)
	if err != nil {
		return err
	}
	defer serialLink.Close()

	store := storage.NewStore(settings.Storage.Dir, settings.Storage.Overwrite,
		settings.Storage.Whitelist, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// a closed link unblocks the emulator's pending read
		<-ctx.Done()
		serialLink.Close()
	}()

	log.Infof("emulating FC1 on %v", settings.Serial.Port)
	err = fc1.NewEmulator(serialLink, store, logger).Run(ctx)
	if ctx.Err() != nil {
		log.Info("exiting on interrupt")
		return nil
	}
	return err
}

func applyFlags(cmd *cobra.Command, settings *config.Settings) {
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
}

// newLogger configures both the process logger used by this command
// and the slog instance handed to the protocol engines
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		log.SetLevel(log.DebugLevel)
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
