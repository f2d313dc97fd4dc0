package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/malakmagdy1/RealStateFlutter/internal/assistant"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	Language       string `json:"language"`
}

type messageResponse struct {
	ID        int64       `json:"id"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	IsUser    bool        `json:"is_user"`
	CreatedAt time.Time   `json:"created_at"`
}

type conversationResponse struct {
	ID            string            `json:"id"`
	Title         *string           `json:"title"`
	Language      string            `json:"language"`
	MessagesCount int               `json:"messages_count"`
	Messages      []messageResponse `json:"messages,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func toConversationResponse(conv *models.Conversation, messages []*models.Message) conversationResponse {
	resp := conversationResponse{
		ID:            conv.ID,
		Title:         conv.Title,
		Language:      conv.Language,
		MessagesCount: conv.MessagesCount,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
	}
	if messages != nil {
		resp.Messages = make([]messageResponse, 0, len(messages))
		for _, m := range messages {
			resp.Messages = append(resp.Messages, messageResponse{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				IsUser:    m.Role == models.RoleUser,
				CreatedAt: m.CreatedAt,
			})
		}
	}
	return resp
}

func (h *Handler) chat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.assistant.Chat(c.Request.Context(), userID, assistant.ChatRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Language:       req.Language,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{
		"conversation_id": res.ConversationID,
		"message":         res.Message,
		"messages_count":  res.MessagesCount,
	}
	if len(res.Properties) > 0 {
		body["properties"] = res.Properties
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) listConversations(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	page, err := h.assistant.ListConversations(c.Request.Context(), userID, queryInt(c, "page", 1), queryInt(c, "page_size", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]conversationResponse, 0, len(page.Items))
	for _, conv := range page.Items {
		items = append(items, toConversationResponse(conv, nil))
	}
	c.JSON(http.StatusOK, gin.H{
		"data":         items,
		"total":        page.Total,
		"current_page": page.Page,
		"per_page":     page.PageSize,
		"last_page":    page.LastPage(),
	})
}

func (h *Handler) getConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	conv, messages, err := h.assistant.GetConversation(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, toConversationResponse(conv, messages))
}

func (h *Handler) deleteConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.assistant.DeleteConversation(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type recommendationsRequest struct {
	Preferences assistant.Preferences `json:"preferences"`
	Limit       int                   `json:"limit"`
	Language    string                `json:"language"`
}

func (h *Handler) recommendations(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req recommendationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.assistant.Recommend(c.Request.Context(), userID, assistant.RecommendRequest{
		Preferences: req.Preferences,
		Limit:       req.Limit,
		Language:    req.Language,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recommendations": res.Units,
		"ai_analysis":     res.Analysis,
	})
}

type describeRequest struct {
	UnitID       int64                  `json:"unit_id"`
	PropertyData map[string]interface{} `json:"property_data"`
	Language     string                 `json:"language"`
	Style        string                 `json:"style"`
}

func (h *Handler) generateDescription(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req describeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	description, err := h.assistant.Describe(c.Request.Context(), userID, assistant.DescribeRequest{
		Property: assistant.PropertyInput{UnitID: req.UnitID, Attributes: req.PropertyData},
		Language: req.Language,
		Style:    req.Style,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"description": description})
}

type askRequest struct {
	Question   string `json:"question"`
	UnitID     int64  `json:"unit_id"`
	CompoundID int64  `json:"compound_id"`
	Language   string `json:"language"`
}

func (h *Handler) ask(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	answer, err := h.assistant.Ask(c.Request.Context(), userID, assistant.AskRequest{
		Question:   req.Question,
		UnitID:     req.UnitID,
		CompoundID: req.CompoundID,
		Language:   req.Language,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

type compareRequest struct {
	UnitIDs  []int64 `json:"unit_ids"`
	Language string  `json:"language"`
}

func (h *Handler) compare(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	props := make([]assistant.PropertyInput, len(req.UnitIDs))
	for i, id := range req.UnitIDs {
		props[i] = assistant.PropertyInput{UnitID: id}
	}
	res, err := h.assistant.Compare(c.Request.Context(), userID, assistant.CompareRequest{
		Properties: props,
		Language:   req.Language,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"comparison": res.Comparison,
		"units":      res.Units,
	})
}

type marketRequest struct {
	CompoundID int64  `json:"compound_id"`
	Location   string `json:"location"`
	Language   string `json:"language"`
}

func (h *Handler) marketInsights(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req marketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.assistant.MarketInsight(c.Request.Context(), userID, assistant.MarketRequest{
		CompoundID: req.CompoundID,
		Location:   req.Location,
		Language:   req.Language,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"insights":    res.Insight,
		"market_data": res.Stats,
	})
}

type salesRequest struct {
	Message  string `json:"message"`
	Language string `json:"language"`
}

func (h *Handler) salesAssistant(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req salesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reply, err := h.assistant.SalesAssist(c.Request.Context(), userID, assistant.SalesRequest{
		Message:  req.Message,
		Language: req.Language,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}
