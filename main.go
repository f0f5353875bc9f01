package main

import "reef-ingest/internal/cli"

func main() {
	cli.Execute()
}
