package platform

// Contact is the conversation platform's contact record.
type Contact struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
}

// ContactPayload is the request body for contact creation.
type ContactPayload struct {
	InboxID     string `json:"inbox_id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
}

// contactSearchResponse wraps the search results, the platform nests them
// under "payload".
type contactSearchResponse struct {
	Payload []Contact `json:"payload"`
}

// Conversation is the platform's conversation record.
type Conversation struct {
	ID        int    `json:"id"`
	InboxID   int    `json:"inbox_id"`
	ContactID int    `json:"contact_id"`
	Status    string `json:"status"`
}

// ConversationPayload is the request body for conversation creation.
type ConversationPayload struct {
	InboxID   string `json:"inbox_id"`
	ContactID int    `json:"contact_id"`
	Status    string `json:"status,omitempty"`
}

// conversationListResponse wraps a contact's conversations.
type conversationListResponse struct {
	Payload []Conversation `json:"payload"`
}

// Message is the platform's message record.
type Message struct {
	ID             int    `json:"id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type"`
	ConversationID int    `json:"conversation_id"`
	SourceID       string `json:"source_id,omitempty"`
}

// MessagePayload is the request body for message creation. SourceID carries
// the external message ID so the platform can dedupe on its side too.
type MessagePayload struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	SourceID    string `json:"source_id,omitempty"`
	Private     bool   `json:"private,omitempty"`
}
