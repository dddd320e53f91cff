package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/mitchellh/cli"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	ui := &cli.ColoredUi{
		ErrorColor: cli.UiColorRed,
		WarnColor:  cli.UiColorYellow,
		Ui: &cli.BasicUi{
			Reader:      bufio.NewReader(os.Stdin),
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
	}

	// containers start the image without arguments; keep that meaning "serve"
	if len(args) == 0 {
		args = []string{"server"}
	}

	c := &cli.CLI{
		Name:       "share-tester",
		Args:       args,
		Commands:   commands(ui),
		HelpFunc:   cli.BasicHelpFunc("share-tester"),
		HelpWriter: os.Stderr,
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err.Error())
		return 1
	}
	return exitCode
}

func commands(ui cli.Ui) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &RunCommand{UI: ui}, nil
		},
		"server": func() (cli.Command, error) {
			return &ServerCommand{UI: ui}, nil
		},
	}
}
