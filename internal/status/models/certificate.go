package models

import "time"

// Certificate is the owner index row written when a certificate is first received.
type Certificate struct {
	ID         string
	PersonID   string
	ReceivedAt time.Time
}

// CertificateView is a certificate with its current status context, as served to the
// query layer.
type CertificateView struct {
	Certificate
	Status   StatusRecord
	Employer *EmployerAttribution
	Answers  []Question
}

// StatusFilter narrows a status history read.
type StatusFilter string

const (
	FilterAll    StatusFilter = ""
	FilterLatest StatusFilter = "LATEST"
)
