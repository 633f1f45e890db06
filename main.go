package main

import (
	"os"

	"virt-backup/src/cli"
)

func main() {
	os.Exit(cli.Execute())
}
