package pricing

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"mailsized/domain"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestComputePriceGmailBeforeUpload(t *testing.T) {
	got := ComputePrice(domain.ProviderGmail, 0, false, domain.AddOns{})
	if !approx(got.Base, 1.99) || !approx(got.Subtotal, 1.99) || !approx(got.Tax, 0.20) || !approx(got.Total, 2.19) {
		t.Fatalf("unexpected breakdown: %+v", got)
	}
	if got.TotalMinorUnits != 219 {
		t.Fatalf("minor=%d want=219", got.TotalMinorUnits)
	}
}

func TestComputePriceOutlookTier2Priority(t *testing.T) {
	got := ComputePrice(domain.ProviderOutlook, 600*BytesMB, true, domain.AddOns{Priority: true})
	if got.Tier != 2 {
		t.Fatalf("tier=%d want=2", got.Tier)
	}
	if !approx(got.Base, 3.29) || !approx(got.PriorityFee, 0.75) || got.TranscriptFee != 0 {
		t.Fatalf("unexpected fees: %+v", got)
	}
	if !approx(got.Subtotal, 4.04) || !approx(got.Tax, 0.40) || !approx(got.Total, 4.44) || got.TotalMinorUnits != 444 {
		t.Fatalf("unexpected totals: %+v", got)
	}
}

func TestComputePriceInvariantsHoldEverywhere(t *testing.T) {
	sizes := []int64{0, 1, T1Max, T1Max + 1, T2Max, T2Max + 1, 4 * T2Max}
	addOnSets := []domain.AddOns{{}, {Priority: true}, {Transcript: true}, {Priority: true, Transcript: true}}
	for _, p := range domain.Providers {
		for _, size := range sizes {
			for _, hasJob := range []bool{false, true} {
				for _, a := range addOnSets {
					got := ComputePrice(p, size, hasJob, a)
					wantPri, wantTra := 0.0, 0.0
					if a.Priority {
						wantPri = 0.75
					}
					if a.Transcript {
						wantTra = 1.5
					}
					if got.PriorityFee != wantPri || got.TranscriptFee != wantTra {
						t.Fatalf("%s/%d/%v/%+v fees=%+v", p, size, hasJob, a, got)
					}
					if !approx(got.Subtotal, got.Base+wantPri+wantTra) {
						t.Fatalf("subtotal mismatch: %+v", got)
					}
					if got.Tax != Round2(got.Subtotal*0.1) {
						t.Fatalf("tax mismatch: %+v", got)
					}
					if got.Total != Round2(got.Subtotal+got.Tax) {
						t.Fatalf("total mismatch: %+v", got)
					}
					if got.TotalMinorUnits != int64(math.Round(got.Total*100)) {
						t.Fatalf("minor mismatch: %+v", got)
					}
					again := ComputePrice(p, size, hasJob, a)
					if again != got {
						t.Fatalf("not deterministic: %+v vs %+v", got, again)
					}
				}
			}
		}
	}
}

func TestTierPinnedWithoutJob(t *testing.T) {
	for _, size := range []int64{0, T1Max + 1, T2Max + 1, math.MaxInt64} {
		if got := Tier(size, false); got != 1 {
			t.Fatalf("Tier(%d,false)=%d want=1", size, got)
		}
	}
}

func TestTierBoundariesAreInclusiveLow(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{500 * BytesMB, 1},
		{500*BytesMB + 1, 2},
		{1024 * BytesMB, 2},
		{1024*BytesMB + 1, 3},
	}
	for _, c := range cases {
		if got := Tier(c.size, true); got != c.want {
			t.Fatalf("Tier(%d)=%d want=%d", c.size, got, c.want)
		}
	}
}

func TestComputePriceProviderFallbacks(t *testing.T) {
	if got := ComputePrice("", 0, false, domain.AddOns{}); got.Provider != domain.ProviderGmail {
		t.Fatalf("empty provider priced as %s", got.Provider)
	}
	if got := ComputePrice("yahoo", 0, false, domain.AddOns{}); got.Provider != domain.ProviderOther || !approx(got.Base, 2.49) {
		t.Fatalf("unknown provider priced as %+v", got)
	}
}

func TestCompareProvidersMatchesComputePrice(t *testing.T) {
	a := domain.AddOns{Transcript: true}
	rows := CompareProviders(T2Max+5, true, a)
	if len(rows) != 3 {
		t.Fatalf("rows=%d", len(rows))
	}
	for i, p := range domain.Providers {
		if rows[i] != ComputePrice(p, T2Max+5, true, a) {
			t.Fatalf("row %d differs from ComputePrice", i)
		}
	}
}

func TestWriteQuoteXLSX(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "quote.xlsx")
	rows := CompareProviders(0, false, domain.AddOns{})
	if err := WriteQuoteXLSX(out, rows, domain.ProviderOutlook); err != nil {
		t.Fatalf("WriteQuoteXLSX: %v", err)
	}
	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue(quoteSheet, "A1"); v != "Provider" {
		t.Fatalf("A1=%q", v)
	}
	if v, _ := f.GetCellValue(quoteSheet, "A2"); v != "gmail" {
		t.Fatalf("A2=%q", v)
	}
	if v, _ := f.GetCellValue(quoteSheet, "I2"); v != "219" {
		t.Fatalf("I2=%q", v)
	}
	if v, _ := f.GetCellValue(quoteSheet, "A4"); v != "other" {
		t.Fatalf("A4=%q", v)
	}
}

func TestWriteQuoteXLSXRejectsEmpty(t *testing.T) {
	if err := WriteQuoteXLSX("", CompareProviders(0, false, domain.AddOns{}), ""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if err := WriteQuoteXLSX(filepath.Join(t.TempDir(), "q.xlsx"), nil, ""); err == nil {
		t.Fatalf("expected error for no rows")
	}
}
