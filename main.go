package main

import "github.com/sunbk201/speedreader/cmd"

func main() {
	cmd.Execute()
}
