package cache

import (
	"fmt"
	"strings"
)

// KeyKind classifies a cache key by the aggregate it holds.
type KeyKind int

const (
	KeyPerson KeyKind = iota + 1
	KeyTown
	KeyTownList
	KeyHomepage
)

func (k KeyKind) String() string {
	switch k {
	case KeyPerson:
		return "person"
	case KeyTown:
		return "town"
	case KeyTownList:
		return "towns"
	case KeyHomepage:
		return "homepage"
	default:
		return fmt.Sprintf("key(%d)", int(k))
	}
}

const (
	homepageKey = "homepage"
	townListKey = "towns:all"
)

// PersonKey is person:{town}:{person}.
func PersonKey(town, person string) string {
	return "person:" + town + ":" + person
}

// TownKey is town:{town}.
func TownKey(town string) string {
	return "town:" + town
}

func HomepageKey() string {
	return homepageKey
}

func TownListKey() string {
	return townListKey
}

// ParsedKey is the decoded form of a cache key.
type ParsedKey struct {
	Kind       KeyKind
	TownSlug   string
	PersonSlug string
}

// ParseKey decodes a key produced by the helpers above.
func ParseKey(key string) (ParsedKey, error) {
	switch key {
	case homepageKey:
		return ParsedKey{Kind: KeyHomepage}, nil
	case townListKey:
		return ParsedKey{Kind: KeyTownList}, nil
	}

	parts := strings.Split(key, ":")
	switch {
	case len(parts) == 2 && parts[0] == "town" && parts[1] != "":
		return ParsedKey{Kind: KeyTown, TownSlug: parts[1]}, nil
	case len(parts) == 3 && parts[0] == "person" && parts[1] != "" && parts[2] != "":
		return ParsedKey{Kind: KeyPerson, TownSlug: parts[1], PersonSlug: parts[2]}, nil
	}
	return ParsedKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
}

// ValidSlug reports whether s can be embedded in a key.
func ValidSlug(s string) bool {
	return s != "" && !strings.ContainsAny(s, ": \t\r\n")
}
