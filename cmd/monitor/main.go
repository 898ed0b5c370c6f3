package main

import (
	"os"

	"github.com/taoyao-code/pgha-monitor/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
