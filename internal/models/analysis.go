package models

// Urgency is the urgency level of a workflow category.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// Valid reports whether u is one of the three known levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

type OverviewItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// WorkflowCategory groups outstanding items under a named area of life.
type WorkflowCategory struct {
	CategoryName     string   `json:"categoryName"`
	Summary          string   `json:"summary"`
	OutstandingItems []string `json:"outstandingItems"`
	UrgencyLevel     Urgency  `json:"urgencyLevel"`
}

type InboxTopic struct {
	Topic       string `json:"topic"`
	Count       int    `json:"count"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

type InboxAnalysis struct {
	Summary string       `json:"summary"`
	Topics  []InboxTopic `json:"topics"`
}

// LifeAnalysis is the summarizer's answer for one snapshot.
type LifeAnalysis struct {
	Overview      []OverviewItem     `json:"overview"`
	Workflows     []WorkflowCategory `json:"workflows"`
	KeyInsights   []string           `json:"keyInsights"`
	InboxAnalysis InboxAnalysis      `json:"inboxAnalysis"`
}
