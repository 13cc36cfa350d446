package main

import "github.com/funnelsheet/event-relay/cmd"

func main() {
	cmd.Execute()
}
