package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"matrixci/internal/cli"
)

func main() {
	err := cli.Execute(context.Background(), os.Args[1:], os.Stdout)
	if err == nil {
		return
	}
	var ee *cli.ExitError
	if errors.As(err, &ee) {
		if ee.Code != 1 {
			fmt.Fprintln(os.Stderr, "error:", ee.Message)
		}
		os.Exit(ee.Code)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
