package learning

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// repositories runs fn against every Repository implementation
func repositories(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryRepository())
	})
	t.Run("bolt", func(t *testing.T) {
		repo, err := OpenBolt(filepath.Join(t.TempDir(), "mappings.db"))
		if err != nil {
			t.Fatalf("Failed to open bolt: %v", err)
		}
		defer repo.Close()
		fn(t, repo)
	})
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNormalizeVendor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ACME, Inc.!!", "acme inc"},
		{"  Midjourney   Inc ", "midjourney inc"},
		{"Open-AI\tL.L.C.", "openai llc"},
		{"Café Ñandú", "café ñandú"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := NormalizeVendor(tt.in)
		if got != tt.want {
			t.Errorf("NormalizeVendor(%q): expected %q, got %q", tt.in, tt.want, got)
		}
		if again := NormalizeVendor(got); again != got {
			t.Errorf("Expected idempotent result for %q, got %q then %q", tt.in, got, again)
		}
	}
}

func TestApplyObservationNewRow(t *testing.T) {
	obs := Observation{VendorName: "Acme", NormalizedVendor: "acme", Category: "5030", Amount: decimal.NewFromInt(20), At: testNow}

	m := ApplyObservation(nil, obs)
	if m.Count != 1 || m.Confidence != 50 || !m.AutoAssigned || m.UserCorrections != 0 {
		t.Errorf("Expected fresh auto-assigned row at 50, got %+v", m)
	}
	if !m.MinAmount.Equal(obs.Amount) || !m.MaxAmount.Equal(obs.Amount) || !m.AverageAmount.Equal(obs.Amount) {
		t.Errorf("Expected range [20,20], got %s-%s avg %s", m.MinAmount, m.MaxAmount, m.AverageAmount)
	}

	obs.UserCorrected = true
	m = ApplyObservation(nil, obs)
	if m.Confidence != 70 || m.AutoAssigned || m.UserCorrections != 1 {
		t.Errorf("Expected corrected row at 70, got %+v", m)
	}
}

func TestApplyObservationExistingRow(t *testing.T) {
	obs := func(amount string, corrected bool) Observation {
		return Observation{NormalizedVendor: "acme", Category: "5030", Amount: decimal.RequireFromString(amount), UserCorrected: corrected, At: testNow}
	}

	m := ApplyObservation(nil, obs("10.00", false))
	m = ApplyObservation(&m, obs("20.00", false))
	m = ApplyObservation(&m, obs("30.00", false))

	if m.Count != 3 {
		t.Errorf("Expected count 3, got %d", m.Count)
	}
	if !m.AverageAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected average 20, got %s", m.AverageAmount)
	}
	if !m.MinAmount.Equal(decimal.NewFromInt(10)) || !m.MaxAmount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected range [10,30], got [%s,%s]", m.MinAmount, m.MaxAmount)
	}
	if m.Confidence != 60 {
		t.Errorf("Expected confidence 60, got %v", m.Confidence)
	}

	m = ApplyObservation(&m, obs("5.00", true))
	if m.Confidence != 70 || m.UserCorrections != 1 {
		t.Errorf("Expected correction to add 10, got %v with %d corrections", m.Confidence, m.UserCorrections)
	}
	if !m.MinAmount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected min 5, got %s", m.MinAmount)
	}

	// 50 + 4*5 + 1*10
	m = ApplyObservation(&m, obs("5.00", false))
	if m.Confidence != 80 {
		t.Errorf("Expected recomputed confidence 80, got %v", m.Confidence)
	}
}

func TestUpdateMonotonicProgression(t *testing.T) {
	repositories(t, func(t *testing.T, repo Repository) {
		e := NewEngine(repo, WithClock(fixedClock))
		ctx := context.Background()

		prev := 0.0
		for i := 1; i <= 13; i++ {
			m, err := e.Update(ctx, "Acme Supplies", "5030", decimal.NewFromInt(40), false)
			if err != nil {
				t.Fatalf("Update %d failed: %v", i, err)
			}
			want := math.Min(100, float64(50+(i-1)*5))
			if m.Confidence != want {
				t.Errorf("Update %d: expected confidence %v, got %v", i, want, m.Confidence)
			}
			if m.Confidence < prev {
				t.Errorf("Update %d: confidence decreased from %v to %v", i, prev, m.Confidence)
			}
			prev = m.Confidence
		}
	})
}

func TestUpdateDecaysSiblings(t *testing.T) {
	repositories(t, func(t *testing.T, repo Repository) {
		e := NewEngine(repo, WithClock(fixedClock))
		ctx := context.Background()
		ten := decimal.RequireFromString("10.00")

		first, err := e.Update(ctx, "Midjourney", "5020", ten, true)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if first.Confidence != 70 {
			t.Fatalf("Expected 70 for corrected mapping, got %v", first.Confidence)
		}

		second, err := e.Update(ctx, "Midjourney", "5010", ten, false)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if second.Confidence != 50 {
			t.Errorf("Expected 50 for new mapping, got %v", second.Confidence)
		}

		rows, err := e.Mappings(ctx, "midjourney")
		if err != nil {
			t.Fatalf("Mappings failed: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("Expected 2 rows, got %d", len(rows))
		}
		if rows[0].Category != "5020" || !near(rows[0].Confidence, 70*0.95) {
			t.Errorf("Expected 5020 decayed to 66.5, got %s at %v", rows[0].Category, rows[0].Confidence)
		}
		if rows[1].Category != "5010" || rows[1].Confidence != 50 {
			t.Errorf("Expected 5010 untouched at 50, got %s at %v", rows[1].Category, rows[1].Confidence)
		}
	})
}

func TestUpdateRejectsEmptyInput(t *testing.T) {
	e := NewEngine(NewMemoryRepository())
	if _, err := e.Update(context.Background(), "!!!", "5000", decimal.Zero, false); err != ErrEmptyVendor {
		t.Errorf("Expected ErrEmptyVendor, got %v", err)
	}
	if _, err := e.Update(context.Background(), "Acme", "  ", decimal.Zero, false); err != ErrEmptyCategory {
		t.Errorf("Expected ErrEmptyCategory, got %v", err)
	}
}

func TestPredictWithoutMappings(t *testing.T) {
	repositories(t, func(t *testing.T, repo Repository) {
		e := NewEngine(repo, WithClock(fixedClock))
		p, err := e.Predict(context.Background(), "Never Seen Corp", decimal.NewFromInt(10))
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}
		if p != nil {
			t.Errorf("Expected nil prediction, got %+v", p)
		}
	})
}

func TestPredict(t *testing.T) {
	repositories(t, func(t *testing.T, repo Repository) {
		e := NewEngine(repo, WithClock(fixedClock))
		ctx := context.Background()
		amount := decimal.NewFromInt(20)

		for i := 0; i < 4; i++ {
			if _, err := e.Update(ctx, "GitHub, Inc.", "5010", amount, false); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
		}
		if _, err := e.Update(ctx, "GitHub, Inc.", "5020", amount, false); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if _, err := e.Update(ctx, "GitHub, Inc.", "5030", amount, false); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if _, err := e.Update(ctx, "GitHub, Inc.", "5040", amount, false); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		p, err := e.Predict(ctx, "github inc", amount)
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}
		if p == nil {
			t.Fatal("Expected a prediction")
		}
		if p.Category != "5010" {
			t.Errorf("Expected 5010, got %s", p.Category)
		}
		// 65 decayed three times
		if p.Confidence != 56 {
			t.Errorf("Expected confidence 56, got %d", p.Confidence)
		}
		if p.Source != SourceLearned {
			t.Errorf("Expected source %q, got %q", SourceLearned, p.Source)
		}
		if !strings.Contains(p.Reason, "4 times") {
			t.Errorf("Expected reason to cite the count, got %q", p.Reason)
		}
		if len(p.Alternatives) != 2 {
			t.Fatalf("Expected 2 alternatives, got %d", len(p.Alternatives))
		}
		// 5040 is newest and undecayed
		if p.Alternatives[0].Category != "5040" || p.Alternatives[0].Confidence != 50 {
			t.Errorf("Expected first alternative 5040 at 50, got %+v", p.Alternatives[0])
		}
		if p.Alternatives[1].Category != "5030" || p.Alternatives[1].Confidence != 48 {
			t.Errorf("Expected second alternative 5030 at 48, got %+v", p.Alternatives[1])
		}
	})
}

func TestScore(t *testing.T) {
	e := NewEngine(NewMemoryRepository(), WithClock(fixedClock))
	base := models.VendorMapping{
		Category:   "5010",
		Confidence: 50,
		Count:      9, // log10(10) = 1
		LastUsed:   testNow.AddDate(0, 0, -1),
		MinAmount:  decimal.NewFromInt(10),
		MaxAmount:  decimal.NewFromInt(20),
	}

	tests := []struct {
		name   string
		mutate func(m *models.VendorMapping)
		amount decimal.Decimal
		want   float64
	}{
		{"recent in range", func(m *models.VendorMapping) {}, decimal.NewFromInt(15), 70},
		{"within 90 days", func(m *models.VendorMapping) { m.LastUsed = testNow.AddDate(0, 0, -60) }, decimal.NewFromInt(15), 65},
		{"stale", func(m *models.VendorMapping) { m.LastUsed = testNow.AddDate(0, 0, -120) }, decimal.NewFromInt(15), 60},
		{"corrections", func(m *models.VendorMapping) { m.UserCorrections = 2 }, decimal.NewFromInt(15), 100},
		{"above range", func(m *models.VendorMapping) {}, decimal.NewFromInt(41), 65},
		{"below range", func(m *models.VendorMapping) {}, decimal.NewFromInt(4), 65},
		{"range edge", func(m *models.VendorMapping) {}, decimal.NewFromInt(40), 70},
		{"no history", func(m *models.VendorMapping) { m.MinAmount = decimal.Zero }, decimal.NewFromInt(1000), 70},
		{"no amount", func(m *models.VendorMapping) {}, decimal.Zero, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			if got := e.score(m, tt.amount, testNow); !near(got, tt.want) {
				t.Errorf("Expected score %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPredictPrefersCorrectedMapping(t *testing.T) {
	e := NewEngine(NewMemoryRepository(), WithClock(fixedClock))
	ctx := context.Background()
	amount := decimal.NewFromInt(30)

	for i := 0; i < 3; i++ {
		e.Update(ctx, "Acme", "5030", amount, false)
	}
	e.Update(ctx, "Acme", "5070", amount, true)

	p, err := e.Predict(ctx, "Acme", amount)
	if err != nil || p == nil {
		t.Fatalf("Expected prediction, got %v, %v", p, err)
	}
	if p.Category != "5070" {
		t.Errorf("Expected the corrected category 5070, got %s", p.Category)
	}
	if p.Confidence != 70 {
		t.Errorf("Expected raw confidence 70, got %d", p.Confidence)
	}
	if !strings.Contains(p.Reason, "confirmed by a user 1 time") {
		t.Errorf("Expected reason to mention the correction, got %q", p.Reason)
	}
}

func TestMemoryRepositoryConcurrentUpserts(t *testing.T) {
	repo := NewMemoryRepository()
	e := NewEngine(repo, WithClock(fixedClock))
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Update(ctx, "Acme", "5030", decimal.NewFromInt(10), false); err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	rows, err := repo.FindByVendor(ctx, "acme", 0)
	if err != nil {
		t.Fatalf("FindByVendor failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0].Count != workers {
		t.Errorf("Expected count %d, got %d", workers, rows[0].Count)
	}
	if rows[0].Confidence != 100 {
		t.Errorf("Expected confidence capped at 100, got %v", rows[0].Confidence)
	}
}

func TestBoltRepositoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.db")
	ctx := context.Background()

	repo, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("Failed to open bolt: %v", err)
	}
	e := NewEngine(repo, WithClock(fixedClock))
	e.Update(ctx, "Midjourney Inc", "5020", decimal.RequireFromString("10.00"), false)
	e.Update(ctx, "Midjourney Inc", "5020", decimal.RequireFromString("30.00"), false)
	e.Update(ctx, "Other Vendor", "5000", decimal.RequireFromString("1.00"), false)
	if err := repo.Close(); err != nil {
		t.Fatalf("Failed to close bolt: %v", err)
	}

	repo, err = OpenBolt(path)
	if err != nil {
		t.Fatalf("Failed to reopen bolt: %v", err)
	}
	defer repo.Close()

	rows, err := repo.FindByVendor(ctx, "midjourney inc", 5)
	if err != nil {
		t.Fatalf("FindByVendor failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	m := rows[0]
	if m.Count != 2 || m.Confidence != 55 {
		t.Errorf("Expected count 2 at 55, got %d at %v", m.Count, m.Confidence)
	}
	if !m.AverageAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected average 20, got %s", m.AverageAmount)
	}
	if !m.LastUsed.Equal(testNow) {
		t.Errorf("Expected last used %v, got %v", testNow, m.LastUsed)
	}
	if m.VendorName != "Midjourney Inc" {
		t.Errorf("Expected vendor name preserved, got %q", m.VendorName)
	}
}

func TestFindByVendorDoesNotMatchPrefix(t *testing.T) {
	repositories(t, func(t *testing.T, repo Repository) {
		e := NewEngine(repo, WithClock(fixedClock))
		ctx := context.Background()
		e.Update(ctx, "Acme", "5030", decimal.NewFromInt(1), false)
		e.Update(ctx, "Acme Corp", "5070", decimal.NewFromInt(1), false)

		rows, err := repo.FindByVendor(ctx, "acme", 0)
		if err != nil {
			t.Fatalf("FindByVendor failed: %v", err)
		}
		if len(rows) != 1 || rows[0].Category != "5030" {
			t.Errorf("Expected only the acme row, got %+v", rows)
		}
	})
}
