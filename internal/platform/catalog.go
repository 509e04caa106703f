package platform

// Entry describes a platform shown on the dashboard.
// Active overrides the data-derived active flag when set.
type Entry struct {
	Tag    Tag
	Name   string
	Active *bool
}

// Catalog is the ordered list of platforms the dashboard renders
type Catalog []Entry

// DefaultCatalog mirrors the dashboard's built-in platform cards.
// LinkedIn and YouTube are supported sources and always shown as active;
// Instagram and Facebook show as coming soon until they have data.
func DefaultCatalog() Catalog {
	return Catalog{
		{Tag: LinkedIn, Name: "LinkedIn", Active: boolPtr(true)},
		{Tag: YouTube, Name: "YouTube", Active: boolPtr(true)},
		{Tag: Instagram, Name: "Instagram"},
		{Tag: Facebook, Name: "Facebook"},
	}
}

// Lookup returns the entry for tag.
func (c Catalog) Lookup(tag Tag) (Entry, bool) {
	for _, e := range c {
		if e.Tag == tag {
			return e, true
		}
	}
	return Entry{}, false
}

// DisplayName returns the catalog name for tag, falling back to the tag itself
func (c Catalog) DisplayName(tag Tag) string {
	if e, ok := c.Lookup(tag); ok && e.Name != "" {
		return e.Name
	}
	return string(tag)
}

func boolPtr(b bool) *bool { return &b }
