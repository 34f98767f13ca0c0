package main

import "github.com/oshokin/client-launcher/cmd/client-launcher/cmd"

func main() {
	cmd.Execute()
}
