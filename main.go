package main

import "github.com/hasanmaki/mkit-idv-next/cmd"

func main() {
	cmd.Run()
}
