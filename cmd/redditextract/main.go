// Package main is the entry point for the redditextract binary.
package main

import "github.com/redditextract/redditextract/cmd"

func main() {
	cmd.Execute()
}
