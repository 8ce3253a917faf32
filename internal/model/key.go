package model

import (
	"strings"
)

// siteSep separates the company name from the site token in a rendered key.
const siteSep = "@"

// Key is the normalized fingerprint of a (company name, site hint) pair.
// It is the lookup identity across every tier.
type Key struct {
	Name string `json:"name"`
	Site string `json:"site,omitempty"`
}

// String renders the key as "name" or "name@site". ParseKey inverts it.
func (k Key) String() string {
	if k.Site == "" {
		return k.Name
	}
	return k.Name + siteSep + k.Site
}

// Text renders the key as a single space-separated token string for
// similarity matching.
func (k Key) Text() string {
	if k.Site == "" {
		return k.Name
	}
	return k.Name + " " + k.Site
}

// IsZero reports whether the key has no name.
func (k Key) IsZero() bool {
	return k.Name == ""
}

// NameOnly returns the key with the site token dropped.
func (k Key) NameOnly() Key {
	return Key{Name: k.Name}
}

// ParseKey parses a key rendered by Key.String.
func ParseKey(s string) Key {
	name, site, _ := strings.Cut(s, siteSep)
	return Key{Name: name, Site: site}
}
