package model

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment references an uploaded file by its remote URI.
type Attachment struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
}

// Turn is one visible message. ID is client generated and monotonic within a chat.
type Turn struct {
	ID          int64        `json:"id"`
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Estimate    *Estimate    `json:"estimate,omitempty"`
}

// Selection is one answer from the step-wise questionnaire that precedes free-form chat.
type Selection struct {
	Step  string `json:"step"`
	Label string `json:"label"`
	Value string `json:"value"`
}
