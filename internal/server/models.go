package server

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// InsufficientCreditsError is the 402 payload for a declined research run.
type InsufficientCreditsError struct {
	Error    string `json:"error"`
	Balance  int64  `json:"balance"`
	Required int64  `json:"required"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// ResearchRequest starts a streamed research run.
type ResearchRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId"`
}

// CreateConversationRequest represents a new conversation payload.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// RenameConversationRequest updates a conversation title.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// ConversationResponse is one conversation in list or detail views.
type ConversationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SurfaceSummary is the list view of a persisted surface.
type SurfaceSummary struct {
	ID                string `json:"id"`
	ConversationID    string `json:"conversationId"`
	Title             string `json:"title"`
	Query             string `json:"query"`
	Abstract          string `json:"abstract"`
	TotalWordCount    int    `json:"totalWordCount"`
	EstimatedReadTime int    `json:"estimatedReadTime"`
	CreatedAt         string `json:"createdAt"`
}

// ConversationDetailResponse is a conversation with its surface summaries.
type ConversationDetailResponse struct {
	ConversationResponse
	Surfaces []SurfaceSummary `json:"surfaces"`
}

// BalanceResponse reports the caller's credit balance.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// GrantRequest adds credits to a user's balance.
type GrantRequest struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

// CreateScheduleRequest registers a periodic refresh.
type CreateScheduleRequest struct {
	ConversationID string `json:"conversationId"`
	Query          string `json:"query"`
	Cron           string `json:"cron"`
}

// ScheduleResponse is one refresh schedule.
type ScheduleResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Query          string `json:"query"`
	Cron           string `json:"cron"`
	LastRunAt      string `json:"lastRunAt,omitempty"`
	CreatedAt      string `json:"createdAt"`
}
