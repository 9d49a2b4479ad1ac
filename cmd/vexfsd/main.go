// Copyright 2026 The VexFS Authors
// This file is part of the VexFS core library.
//
// The VexFS core library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The VexFS core library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the VexFS core library. If not, see <http://www.gnu.org/licenses/>.

// vexfsd hosts the storage substrate's mount lifecycle and offline tools.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/vexfs/vexfscore/config"
	"github.com/vexfs/vexfscore/substrate"
)

var (
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory holding the device image and subjournals",
		Value: "./vexfs-data",
	}
	totalBlocksFlag = &cli.Uint64Flag{
		Name:  "total-blocks",
		Usage: "Device size in blocks (format only)",
		Value: 1 << 20,
	}
	groupCountFlag = &cli.Uint64Flag{
		Name:  "groups",
		Usage: "Number of allocation groups (format only)",
		Value: 8,
	}
	inodesPerGroupFlag = &cli.Uint64Flag{
		Name:  "inodes-per-group",
		Usage: "Inodes reserved per allocation group (format only)",
		Value: 1 << 16,
	}
	emergencyFlag = &cli.BoolFlag{
		Name:  "emergency",
		Usage: "Print the recovery report before exiting",
	}
)

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	app := &cli.App{
		Name:  "vexfsd",
		Usage: "vector-native filesystem storage substrate",
		Commands: []*cli.Command{
			formatCommand,
			mountCommand,
			fsckCommand,
			checkpointCommand,
			recoverCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	cfg.DataDir = ctx.String(dataDirFlag.Name)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var formatCommand = &cli.Command{
	Name:  "format",
	Usage: "initialize a new device and exit",
	Flags: []cli.Flag{dataDirFlag, totalBlocksFlag, groupCountFlag, inodesPerGroupFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		layout := substrate.Layout{
			TotalBlocks:    ctx.Uint64(totalBlocksFlag.Name),
			GroupCount:     uint32(ctx.Uint64(groupCountFlag.Name)),
			InodesPerGroup: uint32(ctx.Uint64(inodesPerGroupFlag.Name)),
		}
		s, err := substrate.Format(cfg, layout)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		log.Info("formatted vexfs device", "datadir", cfg.DataDir, "totalBlocks", layout.TotalBlocks, "groups", layout.GroupCount)
		return s.Close()
	},
}

var mountCommand = &cli.Command{
	Name:  "mount",
	Usage: "mount an existing device, running recovery first, and serve until signaled",
	Flags: []cli.Flag{dataDirFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		s, err := substrate.Open(cfg)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		if s.RecoveryLast != nil {
			log.Info("recovery finished before mount", "committed", s.RecoveryLast.Committed,
				"aborted", s.RecoveryLast.Aborted, "inFlight", s.RecoveryLast.InFlight,
				"blocksUndone", s.RecoveryLast.BlocksUndone, "took", s.RecoveryLast.Duration)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		log.Info("vexfsd mounted", "datadir", cfg.DataDir)
		sig := <-sigCh
		log.Info("received signal, unmounting", "signal", sig)
		return s.Close()
	},
}

var fsckCommand = &cli.Command{
	Name:  "fsck",
	Usage: "mount, let recovery run, report, and unmount without serving",
	Flags: []cli.Flag{dataDirFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		s, err := substrate.Open(cfg)
		if err != nil {
			return fmt.Errorf("fsck: %w", err)
		}
		defer s.Close()
		if s.RecoveryLast != nil {
			fmt.Printf("scanned=%d committed=%d aborted=%d inFlight=%d blocksUndone=%d took=%s\n",
				s.RecoveryLast.RecordsScanned, s.RecoveryLast.Committed, s.RecoveryLast.Aborted,
				s.RecoveryLast.InFlight, s.RecoveryLast.BlocksUndone, s.RecoveryLast.Duration)
		}
		return nil
	},
}

var checkpointCommand = &cli.Command{
	Name:  "checkpoint",
	Usage: "mount, force a checkpoint, and unmount",
	Flags: []cli.Flag{dataDirFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		s, err := substrate.Open(cfg)
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		defer s.Close()
		snap, err := s.Checkpoint()
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		fmt.Println("snapshot", snap.ID)
		return nil
	},
}

// recoverCommand mounts the substrate, which runs the fast recovery engine
// against the checkpoint and journal on disk, and unmounts it again at
// once, for an operator who needs the journal undone after a crash
// without serving anything. The mount starts the background workers as
// usual and Close stops them.
var recoverCommand = &cli.Command{
	Name:  "recover",
	Usage: "mount to run the fast recovery engine, then unmount",
	Flags: []cli.Flag{dataDirFlag, emergencyFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		s, err := substrate.Open(cfg)
		if err != nil {
			return fmt.Errorf("recover: %w", err)
		}
		if ctx.Bool(emergencyFlag.Name) {
			report := s.RecoveryLast
			if err := s.Close(); err != nil {
				return err
			}
			fmt.Printf("%+v\n", report)
			return nil
		}
		return s.Close()
	},
}
