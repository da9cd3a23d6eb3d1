// Package safety gates user text before any retrieval: citizen-identifiable data is refused,
// complaint or legal requests are escalated to a human.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/dalil/internal/models"
)

// Pattern is a named sensitive-data detector.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// DefaultPatterns are checked in order; the first match wins.
var DefaultPatterns = []Pattern{
	{Name: "cin_like", Re: regexp.MustCompile(`\b\d{8}\b`)},
	{Name: "phone_like", Re: regexp.MustCompile(`\b(\+?216)?\s?\d{2}\s?\d{3}\s?\d{3}\b`)},
	{Name: "email_like", Re: regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`)},
}

// DefaultEscalationKeywords denote formal complaints, legal action or threats.
var DefaultEscalationKeywords = []string{"plainte", "réclamation", "tribunal", "menace"}

const (
	reasonAllow    = "No sensitive data detected."
	reasonEscalate = "User requests legal/complaint handling."
)

// Classifier decides allow, refuse or escalate for user text.
type Classifier struct {
	patterns []Pattern
	keywords []string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithEscalationKeywords replaces the escalation keyword set. Matching is case-insensitive.
func WithEscalationKeywords(keywords []string) Option {
	return func(c *Classifier) {
		c.keywords = make([]string, 0, len(keywords))
		for _, k := range keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				c.keywords = append(c.keywords, k)
			}
		}
	}
}

// NewClassifier returns a classifier using DefaultPatterns and DefaultEscalationKeywords
// unless overridden.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		patterns: DefaultPatterns,
		keywords: DefaultEscalationKeywords,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify evaluates text. Sensitive data dominates escalation, which dominates allow.
func (c *Classifier) Classify(text string) models.SafetyDecision {
	for _, p := range c.patterns {
		if p.Re.MatchString(text) {
			return models.SafetyDecision{
				Action: models.SafetyRefuse,
				Reason: fmt.Sprintf("Detected sensitive citizen-identifiable data (%s).", p.Name),
			}
		}
	}
	lower := strings.ToLower(text)
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return models.SafetyDecision{Action: models.SafetyEscalate, Reason: reasonEscalate}
		}
	}
	return models.SafetyDecision{Action: models.SafetyAllow, Reason: reasonAllow}
}
