// Package directory holds read models from the school-management core that
// the assistant's data-access tools expose. The records are owned by an
// external persistence layer; this service only reads them, always scoped by
// organization.
package directory

import "time"

// Member is one person in an organization (staff, guardian, or student).
type Member struct {
	ID       string `json:"id"`
	OrgID    string `json:"org_id"`
	Name     string `json:"name"`
	Role     string `json:"role"` // "staff", "guardian", "student"
	Email    string `json:"email,omitempty"`
	Inactive bool   `json:"inactive,omitempty"`
}

// Progress summarizes a student's academic standing.
type Progress struct {
	StudentID      string    `json:"student_id"`
	OrgID          string    `json:"org_id"`
	GradeAverage   float64   `json:"grade_average"`
	AttendancePct  float64   `json:"attendance_pct"`
	CompletedUnits int       `json:"completed_units"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// InvoiceSummary aggregates an organization's billing position.
type InvoiceSummary struct {
	OrgID        string    `json:"org_id"`
	OpenInvoices int       `json:"open_invoices"`
	OverdueCents int64     `json:"overdue_cents"`
	PaidCents    int64     `json:"paid_cents"`
	AsOf         time.Time `json:"as_of"`
}

// APIKey is a server credential for the HTTP surface. Secret holds only the
// bcrypt hash; the plaintext is shown once at creation.
type APIKey struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"` // first 8 chars of the plaintext, for lookup
	Secret    string    `json:"-"`      // bcrypt hash of the full key
	CreatedAt time.Time `json:"created_at"`
	Disabled  bool      `json:"disabled"`
}
