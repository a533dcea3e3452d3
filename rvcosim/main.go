// Command rvcosim inspects programs and replays recorded co-simulation runs.
package main

import "github.com/sarchlab/rvcosim/rvcosim/cmd"

func main() {
	cmd.Execute()
}
