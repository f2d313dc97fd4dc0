package models

import "time"

// Conversation groups an ordered sequence of messages owned by one user.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        int64     `json:"user_id"`
	Title         *string   `json:"title"`
	Language      string    `json:"language"`
	MessagesCount int       `json:"messages_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TitleOrEmpty dereferences the nullable title.
func (c *Conversation) TitleOrEmpty() string {
	if c == nil || c.Title == nil {
		return ""
	}
	return *c.Title
}

// ConversationPage is one page of a user's conversations, newest activity first.
type ConversationPage struct {
	Items    []*Conversation `json:"data"`
	Total    int             `json:"total"`
	Page     int             `json:"current_page"`
	PageSize int             `json:"per_page"`
}

// LastPage reports the index of the final page (at least 1).
func (p *ConversationPage) LastPage() int {
	if p.PageSize <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}
