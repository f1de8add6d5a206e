package main

import "github.com/devicelab-dev/flutter-control/pkg/cli"

func main() {
	cli.Execute()
}
