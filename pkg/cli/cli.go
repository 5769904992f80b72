package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vorteil/rbdvhd/pkg/elog"
	"github.com/vorteil/rbdvhd/pkg/vconvert"
)

var log elog.View = elog.Discard

var (
	flagJSON    bool
	flagVerbose bool
	flagDebug   bool
	flagForce   bool
	flagConfig  string
	flagDump    bool
	flagBlocks  bool
)

// InitializeCommands wires the command tree. It must run before
// RootCommand is executed.
func InitializeCommands() {

	// setup logging across all commands
	RootCommand.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	RootCommand.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	RootCommand.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "enable json output")
	RootCommand.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default is $HOME/.rbdvhd.yaml)")
	RootCommand.PersistentFlags().Bool("no-progress", false, "never draw progress bars")

	RootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {

		logger := &elog.CLI{}
		elog.IsJSON = flagJSON

		if flagJSON {
			logger.DisableTTY = true
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logrus.SetFormatter(logger)
		}

		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger

		vconvert.InitConfig(flagConfig, log)

		noProgress, err := cmd.Flags().GetBool("no-progress")
		if err != nil {
			return err
		}
		if noProgress || !viper.GetBool(vconvert.KeyProgress) {
			logger.DisableTTY = true
		}

		return nil
	}

	RootCommand.AddCommand(versionCmd)
	RootCommand.AddCommand(rbd2vhdCmd)
	RootCommand.AddCommand(vhd2rbdCmd)
	RootCommand.AddCommand(inspectCmd)
}

// RootCommand is the top of the command tree.
var RootCommand = &cobra.Command{
	Use:   "rbdvhd",
	Short: "Convert between rbd diff streams and differencing VHD disks",
	Long: `rbdvhd converts incremental block device exports in the "rbd diff v1" format
into differencing VHD disks and back again. The VHD carries the image and
parent snapshot identifiers so that a chain of exports maps onto a chain of
disks.`,
	SilenceUsage: true,
}

// DispatchArgs returns the arguments RootCommand should run with. When the
// binary is invoked through a link named after one of the conversion
// commands, that command is implied.
func DispatchArgs(argv []string) []string {

	if len(argv) == 0 {
		return nil
	}

	name := strings.TrimSuffix(filepath.Base(argv[0]), ".exe")
	switch name {
	case rbd2vhdCmd.Name(), vhd2rbdCmd.Name():
		return append([]string{name}, argv[1:]...)
	default:
		return argv[1:]
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "View CLI version information",
	Long:  "View CLI version information",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {

		format, err := cmd.Flags().GetString("format")
		if err != nil {
			panic(err)
		}

		switch format {
		case "json", "", "plain":
			return nil
		default:
			return fmt.Errorf("invalid format '%s'", format)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {

		format, err := cmd.Flags().GetString("format")
		if err != nil {
			panic(err)
		}

		switch format {
		case "json":
			fmt.Fprintf(cmd.OutOrStdout(), "{\n\t\"version\": \"%s\",\n\t\"ref\": \"%s\",\n\t\"released\": \"%s\"\n}\n",
				release, commit, date)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nRef: %s\nReleased: %s\n", release, commit, date)
		}

	},
}

func init() {
	f := versionCmd.Flags()
	f.String("format", "", "specify output format (json, plain)")
}
