package reconciliation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func benchmarkFixture(b *testing.B, keys, movementsPerKey int) *fixture {
	b.Helper()
	f := newFixture(b)
	for i := 0; i < keys; i++ {
		product := uuid.New()
		f.addProduct(product, fmt.Sprintf("SKU-%04d", i), nil)
		f.addStock(product, f.location, "0")
		for j := 0; j < movementsPerKey; j++ {
			at := day(1).Add(time.Duration(j) * time.Minute)
			if j%10 == 9 {
				f.count(product, f.location, at, "40")
				continue
			}
			f.doc(product, f.location, at, DirectionIn, "3")
		}
	}
	return f
}

func BenchmarkReplay(b *testing.B) {
	movements := make([]MovementSource, 500)
	for i := range movements {
		movements[i] = MovementSource{
			Kind:           KindDocument,
			SignedQuantity: d("1.25"),
			OccurredAt:     day(1).Add(time.Duration(len(movements)-i) * time.Second),
			Sequence:       int64(i),
		}
	}
	start := d("0")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Replay(start, movements)
	}
}

func BenchmarkReconcile(b *testing.B) {
	for _, keys := range []int{10, 500} {
		b.Run(fmt.Sprintf("keys=%d", keys), func(b *testing.B) {
			f := benchmarkFixture(b, keys, 50)
			svc := f.service(ServiceConfig{BatchSize: 100, Workers: 8})
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := svc.Reconcile(ctx, f.tenant, DefaultRequest()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func TestReconcileManyKeysAcrossBatches(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 25; i++ {
		product := uuid.New()
		f.addProduct(product, fmt.Sprintf("SKU-%02d", i), nil)
		f.addStock(product, f.location, "6")
		f.doc(product, f.location, day(1), DirectionIn, "6")
	}
	svc := f.service(ServiceConfig{BatchSize: 4, Workers: 3})

	resp, err := svc.Reconcile(context.Background(), f.tenant, DefaultRequest())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Summary.TotalItems != 25 || resp.Summary.Correct != 25 {
		t.Fatalf("unexpected summary %+v", resp.Summary)
	}
}
