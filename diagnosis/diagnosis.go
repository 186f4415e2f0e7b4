// Package diagnosis turns raw pipeline failures into actionable classifications.
//
// Rules are an ordered list checked against the lowercased message; the first
// match wins. Substrings overlap ("401" and "quota" can share a message), so a
// new rule must be inserted at its intended priority.
package diagnosis

import "strings"

// Code identifiers surfaced to users.
const (
	CodeAuth    = "AUTH_001"
	CodeQuota   = "SWARM_429"
	CodeUnknown = "SYS_ERR_UNKNOWN"
)

// fallbackMessage is used when the raw failure carries no text.
const fallbackMessage = "An unhandled exception occurred during modular synthesis."

// RemedyKind tells the caller how a remedy should be carried out.
type RemedyKind string

const (
	RemedyRetry   RemedyKind = "retry"
	RemedyConfig  RemedyKind = "config"
	RemedyBilling RemedyKind = "billing"
	RemedyRefresh RemedyKind = "refresh"
)

// Remedy is the suggested recovery action.
type Remedy struct {
	Label string     `json:"label"`
	Kind  RemedyKind `json:"kind"`
}

// Category is the failure taxonomy a classification belongs to.
type Category int

const (
	UnknownProcessingFault Category = iota
	AuthenticationFailure
	RateLimitExceeded
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case AuthenticationFailure:
		return "AuthenticationFailure"
	case RateLimitExceeded:
		return "RateLimitExceeded"
	default:
		return "UnknownProcessingFault"
	}
}

// Classification is the diagnosis of one failure. Never persisted.
type Classification struct {
	Code     string   `json:"code"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Remedy   *Remedy  `json:"remedy,omitempty"`
	Category Category `json:"-"`
}

// RemedyLabel returns the remedy label, or def when there is no remedy.
func (c Classification) RemedyLabel(def string) string {
	if c.Remedy == nil {
		return def
	}
	return c.Remedy.Label
}

type rule struct {
	needles        []string
	classification Classification
}

var rules = []rule{
	{
		needles: []string{"api_key", "unauthorized", "401"},
		classification: Classification{
			Code:     CodeAuth,
			Title:    "Authentication Void",
			Message:  "The neural link requires a valid API Key.",
			Remedy:   &Remedy{Label: "Verify Key Settings", Kind: RemedyConfig},
			Category: AuthenticationFailure,
		},
	},
	{
		needles: []string{"quota", "429", "exhausted"},
		classification: Classification{
			Code:     CodeQuota,
			Title:    "Bandwidth Saturated",
			Message:  "Rate limit hit. The swarm is over capacity.",
			Remedy:   &Remedy{Label: "Wait 60s & Retry", Kind: RemedyRetry},
			Category: RateLimitExceeded,
		},
	},
}

// Classify maps a raw failure message to a classification.
func Classify(raw string) Classification {
	low := strings.ToLower(raw)
	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(low, needle) {
				c := r.classification
				if c.Remedy != nil {
					remedy := *c.Remedy
					c.Remedy = &remedy
				}
				return c
			}
		}
	}

	msg := raw
	if strings.TrimSpace(msg) == "" {
		msg = fallbackMessage
	}
	return Classification{
		Code:     CodeUnknown,
		Title:    "Logic Processor Fault",
		Message:  msg,
		Category: UnknownProcessingFault,
	}
}

// ClassifyError classifies err by its message. A nil error yields the fallback.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classify("")
	}
	return Classify(err.Error())
}
