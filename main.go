package main

import (
	"os"

	"github.com/isometry/groupsync/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
