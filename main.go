package main

import "github.com/tanq16/pkgloader/cmd"

func main() {
	cmd.Execute()
}
