package main

import "ecodispose/client/internal/cli"

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.Execute(version, commit)
}
