// Package roster owns the in-memory student collection and academic
// configuration, and keeps both consistent with the remote document store
// under optimistic-concurrency writes.
package roster

import "strings"

type DocumentType string

const (
	DocTypeTI DocumentType = "T.I."
	DocTypeCC DocumentType = "C.C."
)

type Status string

const (
	StatusActive  Status = "Active"
	StatusRevoked Status = "Revoked"
)

const PaymentPending = "Pending"

// StudentRecord is one roster entry. Key is a process-local surrogate
// identifier used for edit/delete matching; it is never serialized, so the
// remote document format stays stable. NormalizedID is derived from ID and is
// the identity key of the collection.
type StudentRecord struct {
	Key          string       `json:"-"`
	ID           string       `json:"id"`
	FullName     string       `json:"fullName"`
	DocumentType DocumentType `json:"documentType"`
	Email        string       `json:"email,omitempty"`
	Plan         string       `json:"plan"`
	Status       Status       `json:"status"`
	PaymentDate  string       `json:"paymentDate"`
	FolderURL    string       `json:"folderUrl"`
}

// NormalizedID returns the canonical identity key for the record.
func (r *StudentRecord) NormalizedID() string {
	return Normalize(r.ID)
}

func (r *StudentRecord) applyDefaults() {
	r.FullName = strings.ToUpper(strings.TrimSpace(r.FullName))
	if r.DocumentType == "" {
		r.DocumentType = DocTypeTI
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if strings.TrimSpace(r.PaymentDate) == "" {
		r.PaymentDate = PaymentPending
	}
	if strings.TrimSpace(r.FolderURL) == "" {
		r.FolderURL = "#"
	}
}

func (r *StudentRecord) clone() *StudentRecord {
	clone := *r
	return &clone
}

// Subject keys known to the portal UI. The config document may carry others;
// they round-trip untouched.
const (
	SubjectMath    = "math"
	SubjectReading = "reading"
	SubjectSocial  = "social"
	SubjectScience = "science"
	SubjectEnglish = "english"
)

// AcademicConfig is the shared configuration document. LastNotificationID is
// monotonically non-decreasing; clients must not re-notify for ids at or below
// their watermark.
type AcademicConfig struct {
	SubjectLinks       map[string]string `json:"subjectLinks"`
	SystemMessage      string            `json:"systemMessage"`
	LastNotificationID int64             `json:"lastNotificationId"`
}

// DefaultConfig is the configuration assumed when the remote document does not
// exist yet.
func DefaultConfig() AcademicConfig {
	return AcademicConfig{
		SubjectLinks: map[string]string{
			SubjectMath:    "#",
			SubjectReading: "#",
			SubjectSocial:  "#",
			SubjectScience: "#",
			SubjectEnglish: "#",
		},
		SystemMessage:      "Welcome to the digital credentials portal.",
		LastNotificationID: 0,
	}
}

func (c AcademicConfig) clone() AcademicConfig {
	links := make(map[string]string, len(c.SubjectLinks))
	for key, url := range c.SubjectLinks {
		links[key] = url
	}
	clone := c
	clone.SubjectLinks = links
	return clone
}

// Stats summarizes the collection for the dashboard surface.
type Stats struct {
	Total  int            `json:"total"`
	Active int            `json:"active"`
	Plans  map[string]int `json:"plans"`
}
