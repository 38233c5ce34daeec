package model

import "github.com/cloudwego/eino/schema"

// EstimateRequest is one outbound call to the generative backend. The parts
// are sent in order: selection summary, ledger snapshot, prompt, attachments.
type EstimateRequest struct {
	ChatID           string
	SelectionSummary string
	LedgerSnapshot   string
	Prompt           string
	Attachments      []Attachment
	History          []*schema.Message
}
