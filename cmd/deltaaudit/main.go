package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/vegasq/deltaaudit/cmd/deltaaudit/cmd"
	"github.com/vegasq/deltaaudit/internal/timetravel"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		var verr *timetravel.VersionError
		if errors.As(err, &verr) {
			fmt.Fprintln(os.Stderr, verr.Error())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
