package main

import (
	"context"
	"os"

	"github.com/JakeFAU/realtime-social-crawler/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
