// Package main is the entry point for the authgate CLI.
package main

import "github.com/basecamp/authgate/internal/cli"

func main() {
	cli.Execute()
}
