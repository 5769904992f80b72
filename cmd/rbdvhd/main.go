package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/vorteil/rbdvhd/pkg/cli"
	"github.com/vorteil/rbdvhd/pkg/elog"
)

func init() {
	log := &elog.CLI{}
	logrus.SetFormatter(log)
	logrus.SetLevel(logrus.TraceLevel)
}

func main() {

	defer cli.HandleErrors()

	cli.InitializeCommands()

	cli.RootCommand.SetArgs(cli.DispatchArgs(os.Args))

	err := cli.RootCommand.Execute()
	if err != nil {
		cli.SetError(err, 1)
		return
	}

}
