// bracha runs a reliable broadcast node over a fixed group of peers. Each
// node proposes values read from stdin and prints the values the cluster
// delivers.
package main

import (
	"fmt"
	"os"
	"path"

	"github.com/urfave/cli/v2"

	"github.com/drand/bracha/fs"
	"github.com/drand/bracha/log"
)

// Automatically set through -ldflags
var (
	version   = "master"
	gitCommit = "none"
)

func defaultFolder() string {
	return path.Join(fs.HomeFolder(), ".bracha")
}

var folderFlag = &cli.StringFlag{
	Name:  "folder",
	Value: defaultFolder(),
	Usage: "Folder to keep all the node's cryptographic information, with absolute path.",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "If set, verbosity is at the debug level",
}

var faultsFlag = &cli.IntFlag{
	Name:  "faults",
	Usage: "Number of tolerated faulty nodes. Defaults to floor((n-1)/3).",
}

var outFlag = &cli.StringFlag{
	Name:  "out",
	Value: ".",
	Usage: "Folder where the dealer writes the group file and the share files.",
}

var metricsFlag = &cli.StringFlag{
	Name:  "metrics",
	Usage: "Launch a metrics server at the specified (host:)port.",
}

func main() {
	app := &cli.App{
		Name:    "bracha",
		Version: fmt.Sprintf("%s (commit %s)", version, gitCommit),
		Usage:   "reliable and provable broadcast over a fixed group of nodes",
		Commands: []*cli.Command{
			{
				Name:      "keygen",
				Usage:     "Generate the longterm keypair of a node reachable at the given address.",
				ArgsUsage: "<address> the host:port this node listens on",
				Flags:     []cli.Flag{folderFlag},
				Action:    keygenCmd,
			},
			{
				Name:      "deal",
				Usage:     "Assemble a group file from public key files and deal threshold shares to its members.",
				ArgsUsage: "<pub1> <pub2>... the public key files of every member",
				Flags:     []cli.Flag{faultsFlag, outFlag},
				Action:    dealCmd,
			},
			{
				Name:   "run",
				Usage:  "Run the broadcast node: propose every line read on stdin, print deliveries.",
				Flags:  []cli.Flag{folderFlag, verboseFlag, metricsFlag},
				Action: runCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logger(c *cli.Context) log.Logger {
	level := log.InfoLevel
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	return log.New(os.Stderr, level, false)
}
