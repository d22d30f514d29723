// shepherd supervises interactive assistant CLI sessions.
package main

import (
	"os"

	"github.com/zhubert/shepherd/cli"
)

func main() {
	os.Exit(cli.Execute())
}
