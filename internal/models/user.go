// internal/models/user.go
package models

// Person is a directory entry of the placement app.
type Person struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	ContactID string `json:"contactId"` // registration number shown to the person
	Role      string `json:"role"`
}

// Recipient is a resolved (person, address) pair for one email group.
type Recipient struct {
	PersonID       string `json:"personId"`
	DisplayName    string `json:"displayName"`
	ContactAddress string `json:"contactAddress"`
	ExternalID     string `json:"externalId"`
}

// RecipientFromPerson maps a directory entry onto a recipient.
func RecipientFromPerson(p Person) Recipient {
	return Recipient{
		PersonID:       p.ID,
		DisplayName:    p.Name,
		ContactAddress: p.Email,
		ExternalID:     p.ContactID,
	}
}
