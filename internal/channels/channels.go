// Package channels maps the free-text channel names reported by booking
// marketplaces to a canonical channel.
package channels

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Channel is the canonical booking marketplace.
type Channel string

const (
	Airbnb     Channel = "AIRBNB"
	Vrbo       Channel = "VRBO"
	BookingCom Channel = "BOOKING_COM"
	Expedia    Channel = "EXPEDIA"
	Direct     Channel = "DIRECT"
	Other      Channel = "OTHER"
)

// All lists every canonical channel.
var All = []Channel{Airbnb, Vrbo, BookingCom, Expedia, Direct, Other}

// Valid reports whether c is a canonical channel.
func (c Channel) Valid() bool {
	for _, known := range All {
		if c == known {
			return true
		}
	}
	return false
}

//go:embed channels.yml
var defaultTable []byte

// Table is an immutable, case-insensitive name lookup.
type Table struct {
	names map[string]Channel
}

// Default returns the table built from the embedded mapping.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("channels: embedded table: %v", err))
	}
	return t
}

// Load builds the embedded table and overlays the YAML file at path. An empty
// path returns the embedded table.
func Load(path string) (*Table, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("channels: read %s: %w", path, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for name, ch := range override.names {
		t.names[name] = ch
	}
	return t, nil
}

// Parse reads a mapping of canonical channel to alias list.
func Parse(data []byte) (*Table, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("channels: parse table: %w", err)
	}
	t := &Table{names: make(map[string]Channel)}
	for canonical, aliases := range raw {
		ch := Channel(strings.ToUpper(strings.TrimSpace(canonical)))
		if !ch.Valid() {
			return nil, fmt.Errorf("channels: unknown canonical channel %q", canonical)
		}
		t.names[fold(string(ch))] = ch
		for _, alias := range aliases {
			key := fold(alias)
			if key == "" {
				continue
			}
			if prev, ok := t.names[key]; ok && prev != ch {
				return nil, fmt.Errorf("channels: alias %q mapped to both %s and %s", alias, prev, ch)
			}
			t.names[key] = ch
		}
	}
	return t, nil
}

// Lookup maps a reported channel name to its canonical channel. Unknown or
// empty names map to Other.
func (t *Table) Lookup(name string) Channel {
	if t == nil {
		return Other
	}
	if ch, ok := t.names[fold(name)]; ok {
		return ch
	}
	return Other
}

// Aliases returns the sorted names that map to ch.
func (t *Table) Aliases(ch Channel) []string {
	if t == nil {
		return nil
	}
	var out []string
	for name, mapped := range t.names {
		if mapped == ch {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func fold(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
