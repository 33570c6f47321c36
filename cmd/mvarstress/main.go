package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/creachadair/mvar/cmd/mvarstress/commands"
)

const (
	cmdName = "mvarstress"

	shortDesc = "Exercise mvar boxes and channels under contention."
	longDesc  = `Run producers and consumers against mvar boxes and mchan channels, and
verify the ordering, delivery, and fairness properties they promise.

The stress command checks FIFO delivery and multicast duplication, the fairness
command checks that blocked takers are served in arrival order, and the unget
command demonstrates why pushing a value back cannot reach a blocked reader.
`
)

func main() {
	cmd := commands.NewRootCmd(cmdName, shortDesc, longDesc)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimLeft(err.Error(), "\n"))
		os.Exit(1)
	}
}
