package notification

// Email is the only outbound message kind. Exactly one of HTMLBody and
// TextBody is normally set; HTMLBody wins when both are.
type Email struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body,omitempty"`
	TextBody string `json:"text_body,omitempty"`
}

func (e Email) Valid() bool {
	return e.To != "" && e.Subject != "" && (e.HTMLBody != "" || e.TextBody != "")
}
