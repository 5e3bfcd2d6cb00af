package models

// Category is one entry of the static hazard taxonomy. The table is
// shipped with the app; the server and the clients agree on ids and slugs.
type Category struct {
	ID    int               `json:"id"`
	Slug  string            `json:"slug"`
	Names map[string]string `json:"names"`
}

// Categories lists every reportable hazard kind. Labels cover the three
// app locales.
var Categories = []Category{
	{ID: 1, Slug: "speed_bump", Names: map[string]string{"en": "Speed bump", "fr": "Dos d'âne", "ar": "مطب"}},
	{ID: 2, Slug: "pothole", Names: map[string]string{"en": "Pothole", "fr": "Nid-de-poule", "ar": "حفرة"}},
	{ID: 3, Slug: "degraded_road", Names: map[string]string{"en": "Degraded road", "fr": "Route dégradée", "ar": "طريق متدهور"}},
	{ID: 4, Slug: "roadworks", Names: map[string]string{"en": "Roadworks", "fr": "Travaux", "ar": "أشغال"}},
	{ID: 5, Slug: "flooding", Names: map[string]string{"en": "Flooded road", "fr": "Route inondée", "ar": "طريق مغمور"}},
}

// CategoryByID returns the category with the given id, or nil.
func CategoryByID(id int) *Category {
	for i := range Categories {
		if Categories[i].ID == id {
			return &Categories[i]
		}
	}
	return nil
}

// CategoryBySlug returns the category with the given slug, or nil.
func CategoryBySlug(slug string) *Category {
	for i := range Categories {
		if Categories[i].Slug == slug {
			return &Categories[i]
		}
	}
	return nil
}

// Label returns the category name for a locale, falling back to English.
func (c *Category) Label(locale string) string {
	if name, ok := c.Names[locale]; ok {
		return name
	}
	return c.Names["en"]
}
