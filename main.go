package main

import (
	"os"

	"github.com/smazurov/kill-orphan/cmd"
	"github.com/smazurov/kill-orphan/internal/process"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], process.InheritStdio()))
}
