package main

import "github.com/adamwoolhether/chainsync/app/tooling/chainctl/cmd"

func main() {
	cmd.Execute()
}
