package main

import "github.com/pilab-dev/grantd/cmd/grantctl/cmd"

func main() {
	cmd.Execute()
}
