package models

// Template is a named document skeleton owned by a company. It is read-only
// for the duration of a generation run.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CompanyID   string `json:"companyId"`
}

// Section is an HTML fragment of a template. Sections are concatenated in
// ascending SectionOrder.
type Section struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	TemplateID   string `json:"templateId"`
	HTMLContent  string `json:"htmlContent"`
	SectionOrder int    `json:"sectionOrder"`
}

// TemplateSections is a template together with its ordered sections.
type TemplateSections struct {
	Template Template  `json:"template"`
	Sections []Section `json:"sections"`
}
