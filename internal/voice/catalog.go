package voice

import (
	"errors"
	"log/slog"

	"github.com/speechswitch/swbridge/internal/engine"
)

// ErrNoVoices is returned when no provider yields a single voice. The bridge
// cannot speak at all in that state, so initialization must fail.
var ErrNoVoices = errors.New("no synthesis voices found in any provider")

// Descriptor is one voice as presented to the host. Immutable once built.
type Descriptor struct {
	// Name is the composite "<provider> <voice>" form.
	Name string
	// Language is the normalized tag, e.g. "en-US".
	Language string
	Variant  string
}

// Catalog is the merged, ordered voice list across all providers. It is
// immutable after Build; a refresh builds a new Catalog and swaps it in
// wholesale.
type Catalog struct {
	descriptors []Descriptor
	providers   []string
	byName      map[string]int
}

// Build enumerates every provider the driver knows, starts each in listing
// mode, reads its voices and stops it again. Providers that fail to start or
// list are skipped; they are a degraded deployment, not a fatal one. Only a
// completely empty result is fatal.
func Build(driver engine.Driver, log *slog.Logger) (*Catalog, error) {
	names, err := driver.List()
	if err != nil {
		return nil, err
	}
	c := &Catalog{byName: make(map[string]int)}
	for _, provider := range names {
		ids, err := listProviderVoices(driver, provider)
		if err != nil {
			log.Warn("skipping provider", slog.String("provider", provider), slog.String("error", err.Error()))
			continue
		}
		added := 0
		for _, id := range ids {
			voiceName, language, err := SplitVoiceID(id)
			if err != nil {
				log.Warn("skipping voice", slog.String("provider", provider), slog.String("error", err.Error()))
				continue
			}
			d := Descriptor{
				Name:     JoinComposite(provider, voiceName),
				Language: NormalizeLocale(language),
				Variant:  "none",
			}
			if _, dup := c.byName[d.Name]; dup {
				log.Warn("duplicate voice name, keeping first", slog.String("voice", d.Name))
				continue
			}
			c.byName[d.Name] = len(c.descriptors)
			c.descriptors = append(c.descriptors, d)
			added++
		}
		if added > 0 {
			c.providers = append(c.providers, provider)
		}
	}
	if len(c.descriptors) == 0 {
		return nil, ErrNoVoices
	}
	log.Info("voice catalog built",
		slog.Int("providers", len(c.providers)), slog.Int("voices", len(c.descriptors)))
	return c, nil
}

func listProviderVoices(driver engine.Driver, provider string) ([]string, error) {
	eng, err := driver.Start(provider, nil)
	if err != nil {
		return nil, err
	}
	defer eng.Stop()
	return eng.Voices()
}

// Find does an exact-match lookup by composite name. A miss is not an error;
// it tells the caller the host asked for a voice we never advertised.
func (c *Catalog) Find(name string) (Descriptor, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.descriptors[i], true
}

// Descriptors returns the full ordered voice list. Callers must treat it as
// read-only.
func (c *Catalog) Descriptors() []Descriptor {
	return c.descriptors
}

// Providers returns provider names in discovery order, limited to providers
// that contributed at least one voice.
func (c *Catalog) Providers() []string {
	return c.providers
}

func (c *Catalog) Len() int { return len(c.descriptors) }
