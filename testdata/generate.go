//go:build ignore

// Regenerates testdata/sales, a small partitioned Delta table with a week of
// history. Run from the repository root:
//
//	go run testdata/generate.go
package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vegasq/deltaaudit/internal/seed"
)

func main() {
	dir := filepath.Join("testdata", "sales")
	if err := os.RemoveAll(dir); err != nil {
		log.Fatal(err)
	}
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	version, err := seed.Build(context.Background(), dir, start)
	if err != nil {
		log.Fatal(err)
	}
	log.WithFields(log.Fields{"table": dir, "version": version}).Info("table written")
}
