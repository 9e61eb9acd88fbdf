// Package models holds the server-side data model: synchronized sections,
// entity items, KV section documents, and backup envelopes.
package models

// Section is a named partition of a user's synchronized data. Entity
// sections hold individually addressable items; KV sections hold one opaque
// JSON document per user.
type Section string

const (
	SectionInventory       Section = "inventory"
	SectionRecipes         Section = "recipes"
	SectionMealPlans       Section = "mealPlans"
	SectionShoppingList    Section = "shoppingList"
	SectionCookware        Section = "cookware"
	SectionCustomLocations Section = "customLocations"

	SectionPreferences Section = "preferences"
	SectionAnalytics   Section = "analytics"
	SectionOnboarding  Section = "onboarding"
	SectionUserProfile Section = "userProfile"
	SectionWasteLog    Section = "wasteLog"
	SectionConsumedLog Section = "consumedLog"
)

// EntitySections lists sections backed by the items table, in wire order.
func EntitySections() []Section {
	return []Section{
		SectionInventory,
		SectionRecipes,
		SectionMealPlans,
		SectionShoppingList,
		SectionCookware,
		SectionCustomLocations,
	}
}

// KVSections lists sections stored as opaque per-user documents.
func KVSections() []Section {
	return []Section{
		SectionPreferences,
		SectionAnalytics,
		SectionOnboarding,
		SectionUserProfile,
		SectionWasteLog,
		SectionConsumedLog,
	}
}

// AllSections returns entity sections followed by KV sections.
func AllSections() []Section {
	return append(EntitySections(), KVSections()...)
}

// IsEntity reports whether s is an entity-backed section.
func (s Section) IsEntity() bool {
	switch s {
	case SectionInventory, SectionRecipes, SectionMealPlans,
		SectionShoppingList, SectionCookware, SectionCustomLocations:
		return true
	}
	return false
}

// IsKV reports whether s is a KV-backed section.
func (s Section) IsKV() bool {
	switch s {
	case SectionPreferences, SectionAnalytics, SectionOnboarding,
		SectionUserProfile, SectionWasteLog, SectionConsumedLog:
		return true
	}
	return false
}

// IsLog reports whether s is a log-typed KV section. Log sections are JSON
// arrays that merge imports concatenate instead of replacing.
func (s Section) IsLog() bool {
	return s == SectionWasteLog || s == SectionConsumedLog
}

// ParseSection validates a wire-level section name.
func ParseSection(name string) (Section, bool) {
	s := Section(name)
	if s.IsEntity() || s.IsKV() {
		return s, true
	}
	return "", false
}
