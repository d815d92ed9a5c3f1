package cmd

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
)

func printBanner() {
	figure.NewColorFigure("orion", "cybermedium", "blue", true).Print()
	fmt.Printf("\x1b[32m  Account Service - Version %s\x1b[0m\n\n", Version)
}
