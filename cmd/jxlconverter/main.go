package main

import "github.com/lepinkainen/jxlconverter/cmd/jxlconverter/cmd"

func main() {
	cmd.Execute()
}
