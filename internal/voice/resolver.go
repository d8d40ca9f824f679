package voice

import "strings"

// Resolver picks the voices for a (role, language) pair and layers the
// session tweak on top.
type Resolver struct {
	tables Tables
	tweaks *Tweaks
}

func NewResolver(tables Tables, tweaks *Tweaks) *Resolver {
	if tweaks == nil {
		tweaks = NewTweaks()
	}
	return &Resolver{tables: tables, tweaks: tweaks}
}

// Resolve returns the candidate voices in precedence order: the exact
// language entry first, then the wildcard entry. An empty slice means
// speech is skipped for this pair. Roles without a table of their own
// resolve against the default table.
func (r *Resolver) Resolve(role Role, lang string) []Entry {
	table := r.tables[role]
	if len(table) == 0 {
		table = r.tables[RoleDefault]
	}
	lang = strings.ToLower(strings.TrimSpace(lang))

	var out []Entry
	if entry, ok := table[lang]; ok {
		entry.Voice = r.tweaks.Apply(entry.Voice)
		out = append(out, entry)
	}
	if entry, ok := table[LanguageAll]; ok && lang != LanguageAll {
		entry.Voice = r.tweaks.Apply(entry.Voice)
		out = append(out, entry)
	}
	return out
}

// Tweaks exposes the session override store for the command surface.
func (r *Resolver) Tweaks() *Tweaks { return r.tweaks }

// RoleFor maps chat badge flags to the voice table role, checked from
// most to least privileged.
func RoleFor(broadcaster, moderator, vip, subscriber bool) Role {
	switch {
	case broadcaster:
		return RoleStreamer
	case moderator:
		return RoleModerator
	case vip:
		return RoleVIP
	case subscriber:
		return RoleSubscriber
	default:
		return RoleOthers
	}
}
