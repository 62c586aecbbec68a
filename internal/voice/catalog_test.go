package voice

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/speechswitch/swbridge/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBuildMergesProvidersInOrder(t *testing.T) {
	driver := engine.NewMockDriver(
		engine.MockProvider{Name: "alpha", Voices: []string{"One,en-us", "Two,de-de"}},
		engine.MockProvider{Name: "beta", Voices: []string{"Three,fr-fr"}},
	)
	catalog, err := Build(driver, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"alpha One", "alpha Two", "beta Three"}
	descriptors := catalog.Descriptors()
	if len(descriptors) != len(want) {
		t.Fatalf("expected %d descriptors, got %d", len(want), len(descriptors))
	}
	seen := map[string]bool{}
	for i, d := range descriptors {
		if d.Name != want[i] {
			t.Errorf("descriptor %d = %q, want %q", i, d.Name, want[i])
		}
		if seen[d.Name] {
			t.Errorf("duplicate composite name %q", d.Name)
		}
		seen[d.Name] = true
	}
	if descriptors[0].Language != "en-US" {
		t.Errorf("language not normalized: %q", descriptors[0].Language)
	}
	if descriptors[0].Variant != "none" {
		t.Errorf("variant = %q", descriptors[0].Variant)
	}
}

func TestBuildSkipsFailingProvider(t *testing.T) {
	driver := engine.NewMockDriver(
		engine.MockProvider{Name: "broken", FailStart: true},
		engine.MockProvider{Name: "ok", Voices: []string{"Voice,en-us"}},
	)
	catalog, err := Build(driver, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if catalog.Len() != 1 {
		t.Fatalf("expected 1 voice, got %d", catalog.Len())
	}
	if got := catalog.Providers(); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("providers = %v", got)
	}
}

func TestBuildSkipsMalformedVoiceIDs(t *testing.T) {
	driver := engine.NewMockDriver(
		engine.MockProvider{Name: "odd", Voices: []string{"nolanguage", "Good,en-us"}},
	)
	catalog, err := Build(driver, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if catalog.Len() != 1 {
		t.Fatalf("expected 1 voice, got %d", catalog.Len())
	}
}

func TestBuildNoVoicesIsFatal(t *testing.T) {
	driver := engine.NewMockDriver(
		engine.MockProvider{Name: "broken", FailStart: true},
	)
	if _, err := Build(driver, testLogger()); !errors.Is(err, ErrNoVoices) {
		t.Fatalf("expected ErrNoVoices, got %v", err)
	}
}

func TestBuildStopsListingEngines(t *testing.T) {
	driver := engine.NewMockDriver(
		engine.MockProvider{Name: "alpha", Voices: []string{"One,en-us"}},
		engine.MockProvider{Name: "beta", Voices: []string{"Two,de-de"}},
	)
	if _, err := Build(driver, testLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if live := driver.LiveEngines(); live != 0 {
		t.Fatalf("%d listing engines left running", live)
	}
	if peak := driver.PeakLiveEngines(); peak != 1 {
		t.Fatalf("peak live engines = %d, want 1", peak)
	}
}

func TestFind(t *testing.T) {
	driver := engine.NewMockDriver(
		engine.MockProvider{Name: "alpha", Voices: []string{"One,en-us"}},
	)
	catalog, err := Build(driver, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := catalog.Find("alpha One"); !ok {
		t.Fatal("expected to find alpha One")
	}
	if _, ok := catalog.Find("alpha Two"); ok {
		t.Fatal("found a voice that does not exist")
	}
}
