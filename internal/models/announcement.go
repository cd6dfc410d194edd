// internal/models/announcement.go
package models

import "time"

// Announcement is the per-recipient record of a successful send.
type Announcement struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Brief       string    `json:"brief"`
	IsLink      bool      `json:"isLink"`
	WhereToLook string    `json:"whereToLook"`
	LinkName    string    `json:"linkName"`
	PersonID    string    `json:"personId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AnnouncementFor builds the announcement of group for one recipient.
func AnnouncementFor(group EmailGroup, personID string) Announcement {
	return Announcement{
		Title:       group.Subject,
		Brief:       group.Brief,
		IsLink:      group.WhereToLook != "",
		WhereToLook: group.WhereToLook,
		LinkName:    group.LinkName,
		PersonID:    personID,
	}
}
