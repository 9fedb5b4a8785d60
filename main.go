package main

import "github.com/emrgen/tabular/cmd"

func main() {
	cmd.Execute()
}
