// internal/models/entities.go
package models

// Company, Shortlist and Domain are read-only views of placement-app rows
// referenced by facts.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Shortlist struct {
	ID          string `json:"id"`
	CompanyID   string `json:"companyId"`
	CompanyName string `json:"companyName"`
	Title       string `json:"title"`
}

type Domain struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}
