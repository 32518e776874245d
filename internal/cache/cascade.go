package cache

import (
	"fmt"

	"github.com/jwalitptl/towndir/internal/model"
)

// keyRule derives one dependent key from a changed entity. An empty result
// means the rule does not apply to this change.
type keyRule struct {
	name string
	key  func(ref model.EntityRef) string
}

// cascadeRules maps a changed entity kind to every cached aggregate that
// embeds it.
var cascadeRules = map[model.EntityKind][]keyRule{
	model.EntityPerson: {
		{"person", func(r model.EntityRef) string { return PersonKey(r.TownSlug, r.PersonSlug) }},
		{"town", func(r model.EntityRef) string { return TownKey(r.TownSlug) }},
		{"homepage", func(model.EntityRef) string { return HomepageKey() }},
		// Town listings carry per-town person counts.
		{"town list", func(model.EntityRef) string { return TownListKey() }},
		{"previous town", func(r model.EntityRef) string {
			if !moved(r) {
				return ""
			}
			return TownKey(r.PreviousTownSlug)
		}},
		{"previous person", func(r model.EntityRef) string {
			if !moved(r) {
				return ""
			}
			return PersonKey(r.PreviousTownSlug, r.PersonSlug)
		}},
	},
	model.EntityTown: {
		{"town", func(r model.EntityRef) string { return TownKey(r.TownSlug) }},
		{"town list", func(model.EntityRef) string { return TownListKey() }},
		{"homepage", func(model.EntityRef) string { return HomepageKey() }},
	},
	model.EntityHomepage: {
		{"homepage", func(model.EntityRef) string { return HomepageKey() }},
	},
}

func moved(r model.EntityRef) bool {
	return r.PreviousTownSlug != "" && r.PreviousTownSlug != r.TownSlug
}

// CascadeKeys resolves the keys to invalidate when ref changes, without
// duplicates and in rule order.
func CascadeKeys(ref model.EntityRef) ([]string, error) {
	rules, ok := cascadeRules[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, ref.Kind)
	}

	switch ref.Kind {
	case model.EntityPerson:
		if !ValidSlug(ref.TownSlug) || !ValidSlug(ref.PersonSlug) {
			return nil, fmt.Errorf("%w: person change needs town and person slugs", ErrInvalidKey)
		}
	case model.EntityTown:
		if !ValidSlug(ref.TownSlug) {
			return nil, fmt.Errorf("%w: town change needs a town slug", ErrInvalidKey)
		}
	}
	if ref.PreviousTownSlug != "" && !ValidSlug(ref.PreviousTownSlug) {
		return nil, fmt.Errorf("%w: previous town %q", ErrInvalidKey, ref.PreviousTownSlug)
	}

	seen := make(map[string]struct{}, len(rules))
	keys := make([]string, 0, len(rules))
	for _, rule := range rules {
		k := rule.key(ref)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}
