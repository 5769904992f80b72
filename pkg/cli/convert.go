package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vorteil/rbdvhd/pkg/vconvert"
	"github.com/vorteil/rbdvhd/pkg/vio"
)

func init() {
	f := rbd2vhdCmd.Flags()
	f.BoolVarP(&flagForce, "force", "f", false, "overwrite an existing destination")
	f.String("creator-app", "", "four character creator application stored in the footer")
	f.String("creator-os", "", "four character creator host OS stored in the footer")

	f = vhd2rbdCmd.Flags()
	f.BoolVarP(&flagForce, "force", "f", false, "overwrite an existing destination")
	f.Bool("split-at-blocks", false, "end write records at VHD block boundaries")
}

func bindFlag(cmd *cobra.Command, key, flag string) error {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return viper.BindPFlag(key, cmd.Flags().Lookup(flag))
}

func loadConfig(cmd *cobra.Command) (*vconvert.Config, error) {

	for key, flag := range map[string]string{
		vconvert.KeyCreatorApplication: "creator-app",
		vconvert.KeyCreatorHostOS:      "creator-os",
		vconvert.KeySplitAtBlocks:      "split-at-blocks",
	} {
		if cmd.Flags().Lookup(flag) == nil {
			continue
		}
		err := bindFlag(cmd, key, flag)
		if err != nil {
			return nil, err
		}
	}

	return vconvert.LoadConfig()
}

var rbd2vhdCmd = &cobra.Command{
	Use:   "rbd2vhd SRC DEST",
	Short: "Convert an rbd diff stream into a differencing VHD",
	Long: `Convert an rbd diff stream into a differencing VHD disk. The stream's
from-snapshot becomes the parent identifier of the disk and the to-snapshot
its unique identifier; both must be UUIDs when present.

SRC may be '-' to read the stream from stdin. Streams whose name ends in
'.gz' are decompressed on the fly. DEST must be a regular file.`,
	Example: `  rbdvhd rbd2vhd image@snap2.diff image-snap2.vhd
  rbd export-diff --from-snap snap1 pool/image@snap2 - | rbdvhd rbd2vhd - snap2.vhd`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {

		src, dst := args[0], args[1]

		if dst == stdioPath {
			setError(fmt.Errorf("destination must be a file"))
			return
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			setError(err)
			return
		}

		err = checkValidNewFileOutput(dst, flagForce, "destination", "--force")
		if err != nil {
			setError(err)
			return
		}

		in, err := openStream(cmd, src)
		if err != nil {
			setError(err)
			return
		}
		defer in.Close()

		f, err := os.Create(dst)
		if err != nil {
			setError(err)
			return
		}

		counter := &vio.CountingReader{R: in}

		summary, err := vconvert.Build(counter, f, &vconvert.BuildArgs{
			Logger:             log,
			CreatorApplication: cfg.CreatorApplication,
			CreatorHostOS:      cfg.CreatorHostOS,
			StreamSize:         streamSize(src),
		})
		if err == nil {
			err = f.Close()
		} else {
			f.Close()
		}
		if err != nil {
			os.Remove(dst)
			setError(err)
			return
		}

		log.Printf("converted %s of rbd diff into %s", bytefmt.ByteSize(uint64(counter.N)), dst)
		log.Infof("%s", summary)
	},
}

var vhd2rbdCmd = &cobra.Command{
	Use:   "vhd2rbd SRC DEST",
	Short: "Convert a differencing VHD into an rbd diff stream",
	Long: `Convert a differencing VHD disk into an rbd diff stream that can be applied
with 'rbd import-diff'. Every run of written sectors becomes one write
record.

DEST may be '-' to write the stream to stdout. Streams whose name ends in
'.gz' are compressed on the fly.`,
	Example: `  rbdvhd vhd2rbd image-snap2.vhd image@snap2.diff
  rbdvhd vhd2rbd snap2.vhd - | rbd import-diff - pool/image`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {

		src, dst := args[0], args[1]

		cfg, err := loadConfig(cmd)
		if err != nil {
			setError(err)
			return
		}

		f, err := os.Open(src)
		if err != nil {
			if os.IsNotExist(err) {
				err = fmt.Errorf("failed to resolve disk '%s'", src)
			}
			setError(err)
			return
		}
		defer f.Close()

		out, err := createStream(cmd, dst, flagForce)
		if err != nil {
			setError(err)
			return
		}

		counter := &vio.CountingWriter{W: out}

		summary, err := vconvert.Extract(f, counter, &vconvert.ExtractArgs{
			Logger:        log,
			SplitAtBlocks: cfg.SplitAtBlocks,
		})
		if err == nil {
			err = out.Close()
		} else {
			out.Close()
		}
		if err != nil {
			if dst != stdioPath {
				os.Remove(dst)
			}
			setError(err)
			return
		}

		log.Printf("extracted %s of rbd diff from %s", bytefmt.ByteSize(uint64(counter.N)), src)
		log.Infof("%s", summary)
	},
}
