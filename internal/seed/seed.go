// Package seed writes a small demo Delta table with a realistic history:
// appends on several days, a delete, an overwrite, a vacuum and a
// checkpoint.
package seed

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vegasq/deltaaudit/internal/delta"
)

// Sale is one row of the demo table.
type Sale struct {
	OrderID  int64   `parquet:"order_id"`
	Store    string  `parquet:"store"`
	PromoID  *string `parquet:"promo_id,optional"`
	Quantity int64   `parquet:"quantity"`
	Amount   float64 `parquet:"amount"`
	Region   string  `parquet:"region"`
}

// Schema is the table schema of Sale, partitioned by region.
func Schema() *delta.Schema {
	return delta.NewSchema(
		delta.NewField("order_id", delta.TypeLong),
		delta.NewField("store", delta.TypeString),
		delta.NewField("promo_id", delta.TypeString),
		delta.NewField("quantity", delta.TypeLong),
		delta.NewField("amount", delta.TypeDouble),
		delta.NewField("region", delta.TypeString),
	)
}

func promo(id string) *string { return &id }

func sale(id int64, store, promoID string, qty int64, amount float64, region string) Sale {
	s := Sale{OrderID: id, Store: store, Quantity: qty, Amount: amount, Region: region}
	if promoID != "" {
		s.PromoID = promo(promoID)
	}
	return s
}

// Build creates the demo table at dir. Commits are spaced one day apart
// starting at start. It returns the latest version.
func Build(ctx context.Context, dir string, start time.Time) (int64, error) {
	now := start
	clock := func() time.Time { return now }
	nextDay := func() { now = now.Add(24 * time.Hour) }

	w, err := delta.Create(ctx, dir, Schema(), []string{"region"},
		delta.WithClock(clock), delta.WithEngineInfo("deltaaudit-seed"))
	if err != nil {
		return -1, err
	}

	steps := []struct {
		name string
		run  func() (int64, error)
	}{
		{"append eu", func() (int64, error) {
			return delta.Append(ctx, w, []Sale{
				sale(1, "berlin", "SPRING", 2, 19.98, "eu"),
				sale(2, "paris", "", 1, 5.49, "eu"),
				sale(3, "madrid", "SPRING", 4, 39.96, "eu"),
			}, map[string]string{"region": "eu"})
		}},
		{"append us", func() (int64, error) {
			return delta.Append(ctx, w, []Sale{
				sale(4, "boston", "SPRING", 1, 9.99, "us"),
				sale(5, "denver", "WELCOME", 3, 26.97, "us"),
			}, map[string]string{"region": "us"})
		}},
		{"append eu", func() (int64, error) {
			return delta.Append(ctx, w, []Sale{
				sale(6, "berlin", "WELCOME", 1, 7.50, "eu"),
				sale(7, "rome", "SPRING", 2, 21.00, "eu"),
			}, map[string]string{"region": "eu"})
		}},
		{"delete returns", func() (int64, error) {
			return delta.Delete[Sale](ctx, w, "order_id IN (3, 5)")
		}},
		{"vacuum", func() (int64, error) {
			if _, err := w.Vacuum(ctx, 7*24*time.Hour); err != nil {
				return -1, err
			}
			return w.Table().LatestVersion(ctx)
		}},
		{"checkpoint", func() (int64, error) {
			return w.Checkpoint(ctx)
		}},
		{"append apac", func() (int64, error) {
			return delta.Append(ctx, w, []Sale{
				sale(8, "tokyo", "SPRING", 5, 49.95, "apac"),
				sale(9, "sydney", "", 2, 15.00, "apac"),
			}, map[string]string{"region": "apac"})
		}},
		{"overwrite", func() (int64, error) {
			return delta.Overwrite(ctx, w, []Sale{
				sale(10, "berlin", "SPRING", 1, 9.99, "eu"),
				sale(11, "lisbon", "SUMMER", 2, 18.00, "eu"),
			}, map[string]string{"region": "eu"})
		}},
	}

	version := int64(0)
	for _, step := range steps {
		nextDay()
		v, err := step.run()
		if err != nil {
			return -1, fmt.Errorf("seed step %q failed: %w", step.name, err)
		}
		version = v
		log.WithFields(log.Fields{"step": step.name, "version": v}).Debug("seeded")
	}
	return version, nil
}
