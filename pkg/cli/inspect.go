package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/vorteil/rbdvhd/pkg/vhd"
)

func init() {
	f := inspectCmd.Flags()
	f.BoolVar(&flagDump, "dump", false, "dump the decoded structures instead of printing tables")
	f.BoolVar(&flagBlocks, "blocks", false, "list every allocated block")
	f.StringP("numbers", "n", "short", "number format (short, dec, hex)")
	f.String("format", "table", "output format (table, yaml)")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect VHD",
	Short: "Print the metadata of a dynamic or differencing VHD",
	Long: `Print the footer, dynamic header, parent locators and block allocation
statistics of a dynamic or differencing VHD. Both footer copies and the
header checksum are verified before anything is printed.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {

		format, err := cmd.Flags().GetString("format")
		if err != nil {
			panic(err)
		}

		switch format {
		case "table", "yaml":
		default:
			return fmt.Errorf("invalid format '%s'", format)
		}

		return SetNumberModeFlagCMD(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {

		f, err := os.Open(args[0])
		if err != nil {
			if os.IsNotExist(err) {
				err = fmt.Errorf("failed to resolve disk '%s'", args[0])
			}
			setError(err)
			return
		}
		defer f.Close()

		disk, err := vhd.Open(f)
		if err != nil {
			setError(err)
			return
		}

		w := cmd.OutOrStdout()

		if flagDump {
			spew.Fdump(w, disk.Footer, disk.Header)
			return
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "yaml" {
			err = reportDisk(w, disk)
		} else {
			err = inspectDisk(w, disk, flagBlocks)
		}
		if err != nil {
			setError(err)
			return
		}
	},
}

func platformCode(x uint32) string {
	if x == 0 {
		return "-"
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], x)
	return strings.TrimRight(string(b[:]), " \x00")
}

func usedLocators(disk *vhd.Disk) []vhd.ParentLocator {
	return lo.Filter(disk.Header.Locators[:], func(l vhd.ParentLocator, _ int) bool {
		return !l.IsZero()
	})
}

// locatorPaths reads and decodes the payload of every locator.
func locatorPaths(disk *vhd.Disk, locators []vhd.ParentLocator) ([]string, error) {
	var paths []string
	for _, l := range locators {
		data, err := disk.ReadLocatorData(l)
		if err != nil {
			return nil, err
		}
		path, err := l.Path(data)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func inspectDisk(w io.Writer, disk *vhd.Disk, blocks bool) error {

	ft := disk.Footer
	hd := disk.Header

	PlainTable(w, [][]string{
		{"Footer", ""},
		{"Disk type", ft.DiskType.String()},
		{"Unique ID", ft.UniqueID.String()},
		{"Virtual size", PrintableSize(ft.CurrentSize).String()},
		{"Original size", PrintableSize(ft.OriginalSize).String()},
		{"Geometry", ft.Geometry.String()},
		{"Created", ft.TimeStamp.Format("2006-01-02 15:04:05 MST")},
		{"Creator", fmt.Sprintf("%s %#x (%s)", ft.CreatorApplication, ft.CreatorVersion, platformCode(ft.CreatorHostOS))},
		{"Checksum", fmt.Sprintf("%#08x", ft.Checksum)},
	})
	fmt.Fprintln(w)

	PlainTable(w, [][]string{
		{"Dynamic header", ""},
		{"Parent ID", hd.ParentUniqueID.String()},
		{"Parent name", hd.ParentUnicodeName},
		{"Parent modified", hd.ParentTimeStamp.Format("2006-01-02 15:04:05 MST")},
		{"Table offset", PrintableSize(hd.TableOffset).String()},
		{"Table entries", fmt.Sprintf("%d", hd.MaxTableEntries)},
		{"Block size", PrintableSize(hd.BlockSize).String()},
		{"Checksum", fmt.Sprintf("%#08x", hd.Checksum)},
	})

	locators := usedLocators(disk)
	if len(locators) > 0 {
		paths, err := locatorPaths(disk, locators)
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		rows := [][]string{{"Platform", "Data space", "Data length", "Data offset", "Path"}}
		rows = append(rows, lo.Map(locators, func(l vhd.ParentLocator, i int) []string {
			return []string{
				platformCode(l.PlatformCode),
				fmt.Sprintf("%d", l.PlatformDataSpace),
				PrintableSize(l.PlatformDataLength).String(),
				PrintableSize(l.PlatformDataOffset).String(),
				paths[i],
			}
		})...)
		PlainTable(w, rows)
	}

	batmap, err := disk.ReadBatmap()
	if err != nil {
		return err
	}
	if batmap != nil {
		fmt.Fprintln(w)
		PlainTable(w, [][]string{
			{"Batmap", ""},
			{"Offset", PrintableSize(batmap.Offset).String()},
			{"Size", fmt.Sprintf("%d sectors", batmap.Size)},
			{"Version", fmt.Sprintf("%#08x", batmap.Version)},
			{"Checksum", fmt.Sprintf("%#08x", batmap.Checksum)},
			{"Marker", fmt.Sprintf("%d", batmap.Marker)},
		})
	}

	allocated := disk.BAT.AllocatedBlocks()
	rows := [][]string{{"Block", "Offset", "Written sectors"}}

	var sectors int64
	for _, block := range allocated {
		bm, err := disk.ReadBitmap(block)
		if err != nil {
			return err
		}
		n := bm.Count(disk.SectorsPerBlock())
		sectors += n
		rows = append(rows, []string{
			fmt.Sprintf("%d", block),
			PrintableSize(disk.BAT.Offset(block)).String(),
			fmt.Sprintf("%d", n),
		})
	}

	fmt.Fprintln(w)
	PlainTable(w, [][]string{
		{"Allocation", ""},
		{"Allocated blocks", fmt.Sprintf("%d of %d", len(allocated), len(disk.BAT))},
		{"Written sectors", fmt.Sprintf("%d", sectors)},
		{"Written data", PrintableSize(sectors * vhd.SectorSize).String()},
	})

	if blocks && len(allocated) > 0 {
		fmt.Fprintln(w)
		PlainTable(w, rows)
	}

	return nil
}

type diskReport struct {
	DiskType      string        `yaml:"disk_type"`
	UniqueID      string        `yaml:"unique_id"`
	ParentID      string        `yaml:"parent_id"`
	ParentName    string        `yaml:"parent_name"`
	VirtualSize   uint64        `yaml:"virtual_size"`
	Geometry      string        `yaml:"geometry"`
	Creator       string        `yaml:"creator"`
	CreatorHostOS string        `yaml:"creator_host_os"`
	BlockSize     uint32        `yaml:"block_size"`
	TableEntries  uint32        `yaml:"table_entries"`
	Blocks        []uint64      `yaml:"allocated_blocks,flow"`
	Sectors       int64         `yaml:"written_sectors"`
	ParentPaths   []string      `yaml:"parent_paths,omitempty"`
	Batmap        *batmapReport `yaml:"batmap,omitempty"`
}

type batmapReport struct {
	Offset  uint64 `yaml:"offset"`
	Sectors uint32 `yaml:"sectors"`
	Version uint32 `yaml:"version"`
	Marker  uint8  `yaml:"marker"`
}

func reportDisk(w io.Writer, disk *vhd.Disk) error {

	report := &diskReport{
		DiskType:      disk.Footer.DiskType.String(),
		UniqueID:      disk.Footer.UniqueID.String(),
		ParentID:      disk.Header.ParentUniqueID.String(),
		ParentName:    disk.Header.ParentUnicodeName,
		VirtualSize:   disk.Footer.CurrentSize,
		Geometry:      disk.Footer.Geometry.String(),
		Creator:       disk.Footer.CreatorApplication,
		CreatorHostOS: platformCode(disk.Footer.CreatorHostOS),
		BlockSize:     disk.Header.BlockSize,
		TableEntries:  disk.Header.MaxTableEntries,
	}

	for _, block := range disk.BAT.AllocatedBlocks() {
		bm, err := disk.ReadBitmap(block)
		if err != nil {
			return err
		}
		report.Blocks = append(report.Blocks, uint64(block))
		report.Sectors += bm.Count(disk.SectorsPerBlock())
	}

	var err error
	report.ParentPaths, err = locatorPaths(disk, usedLocators(disk))
	if err != nil {
		return err
	}

	batmap, err := disk.ReadBatmap()
	if err != nil {
		return err
	}
	if batmap != nil {
		report.Batmap = &batmapReport{
			Offset:  batmap.Offset,
			Sectors: batmap.Size,
			Version: batmap.Version,
			Marker:  batmap.Marker,
		}
	}

	data, err := yaml.Marshal(report)
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	return err
}
