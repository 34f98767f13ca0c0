package main

import "github.com/oshokin/client-launcher/cmd/client-packager/cmd"

func main() {
	cmd.Execute()
}
