// Package lead holds the pure funnel rules: the status set, message-driven
// transitions and the CRM label mapping. No storage or transport concerns
// live here.
package lead

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Status is a Lead's funnel stage.
type Status string

// Funnel stages. Message-driven transitions only move forward
// (new -> in_conversation), except that stopped_responding and no_show are
// recoverable: any later inbound message moves the lead back to
// in_conversation. Label-driven transitions are authoritative manual
// overrides and may set any stage.
const (
	StatusNew               Status = "new"
	StatusInConversation    Status = "in_conversation"
	StatusScheduled         Status = "scheduled"
	StatusStoppedResponding Status = "stopped_responding"
	StatusArrived           Status = "arrived"
	StatusNoShow            Status = "no_show"
	StatusPurchased         Status = "purchased"
	StatusNoPurchase        Status = "no_purchase"
)

// IsValid reports whether s is a known funnel stage.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusInConversation, StatusScheduled, StatusStoppedResponding,
		StatusArrived, StatusNoShow, StatusPurchased, StatusNoPurchase:
		return true
	}
	return false
}

// CanRecover reports whether an inbound message pulls the lead back into
// conversation from this stage.
func (s Status) CanRecover() bool {
	return s == StatusStoppedResponding || s == StatusNoShow
}

// OnInbound returns the stage after an inbound message from the contact.
func OnInbound(current Status) Status {
	switch current {
	case StatusNew, StatusScheduled, StatusStoppedResponding, StatusNoShow:
		return StatusInConversation
	}
	return current
}

// OnOutbound returns the stage after an outbound message from the clinic and
// whether this was the first agent reply to a fresh lead.
func OnOutbound(current Status) (Status, bool) {
	if current == StatusNew {
		return StatusInConversation, true
	}
	return current, false
}

// labelEntry binds a set of normalized CRM label spellings to a target stage.
type labelEntry struct {
	patterns []string
	target   Status
}

// labelTable is matched top to bottom: when one event carries several mapped
// labels, the earliest entry here wins. The ordering is a fixed
// implementation choice, most final stages first.
var labelTable = []labelEntry{
	{patterns: []string{"comprou", "venda", "vendido", "fechou"}, target: StatusPurchased},
	{patterns: []string{"nao comprou", "sem compra", "nao fechou"}, target: StatusNoPurchase},
	{patterns: []string{"agendou", "agendado", "agendamento"}, target: StatusScheduled},
	{patterns: []string{"compareceu", "chegou"}, target: StatusArrived},
	{patterns: []string{"faltou", "nao compareceu"}, target: StatusNoShow},
	{patterns: []string{"parou de responder", "sem resposta"}, target: StatusStoppedResponding},
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeLabel lowercases, trims and accent-folds a CRM label so that
// "AGENDOU", "agendou" and "Agendou " all compare equal.
func NormalizeLabel(label string) string {
	folded, _, err := transform.String(accentStripper, label)
	if err != nil {
		folded = label
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// MatchLabel maps a set of raw CRM labels to a funnel stage. Matching is
// case/accent-insensitive and follows labelTable priority, not the order the
// labels appear on the event.
func MatchLabel(labels []string) (Status, bool) {
	if len(labels) == 0 {
		return "", false
	}

	normalized := make([]string, 0, len(labels))
	for _, l := range labels {
		normalized = append(normalized, NormalizeLabel(l))
	}

	for _, entry := range labelTable {
		for _, pattern := range entry.patterns {
			for _, label := range normalized {
				if label == pattern {
					return entry.target, true
				}
			}
		}
	}
	return "", false
}
