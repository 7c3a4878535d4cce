package main

import (
	_ "time/tzdata"

	"github.com/jmehdipour/innbot/cmd"
)

func main() {
	cmd.Execute()
}
