package models

// These structs define the JSON payloads carried on the saga topics and the
// request accepted by the submission entry point.

// Topic names.
const (
	TopicTemplateRequested = "template.requested"
	TopicTemplateDelivered = "template.delivered"
)

// TemplateRequested is published when a client submits a generation request.
type TemplateRequested struct {
	TemplateID string `json:"templateId"`
}

// TemplateDelivered is published once a template and its sections have been
// resolved.
type TemplateDelivered struct {
	Data TemplateSections `json:"data"`
}

// GenerationRequest is the input for submitting a new document.
type GenerationRequest struct {
	TemplateID string            `json:"templateId"`
	Name       string            `json:"name"`
	UserID     string            `json:"userId"`
	Payload    map[string]string `json:"payload"`
}
