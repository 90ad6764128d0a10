package main

import "github.com/danielnaab/site-scanning-engine/internal/cli"

func main() {
	cli.Execute()
}
