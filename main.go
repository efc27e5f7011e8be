package main

import (
	"github.com/luma/sled/cmd"
)

func main() {
	cmd.Execute()
}
