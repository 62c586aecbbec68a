package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/speechswitch/swbridge/internal/engine"
	"github.com/speechswitch/swbridge/internal/voice"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func buildCatalog(t *testing.T, driver *engine.MockDriver) *voice.Catalog {
	t.Helper()
	catalog, err := voice.Build(driver, testLogger())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return catalog
}

func twoProviderDriver() *engine.MockDriver {
	return engine.NewMockDriver(
		engine.MockProvider{Name: "alpha", Voices: []string{"One,en-us"}},
		engine.MockProvider{Name: "beta", Voices: []string{"Two,de-de"}},
	)
}

func TestEnsureVoiceStartsEngine(t *testing.T) {
	driver := twoProviderDriver()
	catalog := buildCatalog(t, driver)
	s := New(driver, nil, testLogger())

	if !s.EnsureVoice(catalog, "alpha One") {
		t.Fatal("EnsureVoice failed")
	}
	if !s.Active() || s.Provider() != "alpha" {
		t.Fatalf("expected active alpha session, got provider %q", s.Provider())
	}
	if s.SampleRate() != 22050 {
		t.Fatalf("sample rate = %d", s.SampleRate())
	}
}

func TestSwitchingProvidersNeverOverlapsHandles(t *testing.T) {
	driver := twoProviderDriver()
	catalog := buildCatalog(t, driver)
	s := New(driver, nil, testLogger())

	if !s.EnsureVoice(catalog, "alpha One") {
		t.Fatal("first EnsureVoice failed")
	}
	if !s.EnsureVoice(catalog, "beta Two") {
		t.Fatal("second EnsureVoice failed")
	}
	if s.Provider() != "beta" {
		t.Fatalf("provider = %q, want beta", s.Provider())
	}
	if peak := driver.PeakLiveEngines(); peak != 1 {
		t.Fatalf("peak live engines = %d, want 1", peak)
	}
	s.Stop()
	if live := driver.LiveEngines(); live != 0 {
		t.Fatalf("%d engines still live after Stop", live)
	}
}

func TestEnsureVoiceSameProviderKeepsEngine(t *testing.T) {
	driver := engine.NewMockDriver(
		engine.MockProvider{Name: "alpha", Voices: []string{"One,en-us", "Two,en-gb"}},
	)
	catalog := buildCatalog(t, driver)
	s := New(driver, nil, testLogger())

	if !s.EnsureVoice(catalog, "alpha One") {
		t.Fatal("first EnsureVoice failed")
	}
	eng := s.Engine()
	if !s.EnsureVoice(catalog, "alpha Two") {
		t.Fatal("second EnsureVoice failed")
	}
	if s.Engine() != eng {
		t.Fatal("engine was restarted for a same-provider voice change")
	}
}

func TestEnsureVoiceUnknownIsNoOp(t *testing.T) {
	driver := twoProviderDriver()
	catalog := buildCatalog(t, driver)
	s := New(driver, nil, testLogger())

	if s.EnsureVoice(catalog, "gamma Nope") {
		t.Fatal("EnsureVoice succeeded for unknown voice")
	}
	if s.Active() {
		t.Fatal("session became active on unknown voice")
	}
}

func TestEnsureStartedPrefersDefault(t *testing.T) {
	driver := twoProviderDriver()
	catalog := buildCatalog(t, driver)
	s := New(driver, nil, testLogger())

	if !s.EnsureStarted(catalog, "beta") {
		t.Fatal("EnsureStarted failed")
	}
	if s.Provider() != "beta" {
		t.Fatalf("provider = %q, want beta", s.Provider())
	}
}

func TestEnsureStartedFallsThroughCatalogOrder(t *testing.T) {
	driver := engine.NewMockDriver(
		engine.MockProvider{Name: "alpha", Voices: []string{"One,en-us"}},
	)
	catalog := buildCatalog(t, driver)
	s := New(driver, nil, testLogger())

	// Preferred provider does not exist; the session must fall through to
	// the catalog's first provider.
	if !s.EnsureStarted(catalog, "espeak") {
		t.Fatal("EnsureStarted failed")
	}
	if s.Provider() != "alpha" {
		t.Fatalf("provider = %q, want alpha", s.Provider())
	}
}

func TestStopIdempotent(t *testing.T) {
	driver := twoProviderDriver()
	s := New(driver, nil, testLogger())
	s.Stop()
	s.Stop()
	if s.Active() {
		t.Fatal("idle session reports active")
	}
}
