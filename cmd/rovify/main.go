package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rovify/rovify/internal/app"
)

func main() {
	if err := app.Run(context.Background(), os.Stdout, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rovify: %v\n", err)
		os.Exit(1)
	}
}
