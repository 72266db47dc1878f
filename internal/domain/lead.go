package domain

import (
	"strings"
	"time"
)

// LeadStatus represents where a lead sits in the pipeline.
type LeadStatus string

// Lead statuses.
const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusLost      LeadStatus = "lost"
)

// Lead represents a sales lead.
type Lead struct {
	ID              string     `json:"id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	Status          LeadStatus `json:"status"`
	DoNotContact    bool       `json:"do_not_contact"`
	LastContactedAt *time.Time `json:"last_contacted_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FullName returns the lead's display name.
func (l *Lead) FullName() string {
	first := strings.TrimSpace(l.FirstName)
	last := strings.TrimSpace(l.LastName)
	return strings.TrimSpace(first + " " + last)
}
