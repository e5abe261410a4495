// The main package for the udiab executable.
package main

import (
	"os"

	"github.com/Evian-Zhang/udiab/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
