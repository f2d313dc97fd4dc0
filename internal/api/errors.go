package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/malakmagdy1/RealStateFlutter/internal/account"
	"github.com/malakmagdy1/RealStateFlutter/internal/assistant"
	"github.com/malakmagdy1/RealStateFlutter/internal/catalog"
	"github.com/malakmagdy1/RealStateFlutter/internal/conversation"
	"github.com/malakmagdy1/RealStateFlutter/internal/inference"
	"github.com/malakmagdy1/RealStateFlutter/internal/worker"
)

const (
	msgRetryEN = "The assistant is temporarily unavailable, please try again."
	msgRetryAR = "المساعد غير متاح حالياً، من فضلك حاول مرة أخرى."
	msgBusyEN  = "Server is busy, please retry in a moment."
	msgBusyAR  = "الخادم مشغول حالياً، من فضلك أعد المحاولة بعد قليل."
	msgDropEN  = "The request was canceled because the session ended."
	msgDropAR  = "تم إلغاء الطلب لانتهاء الجلسة."
)

// writeError maps a service error to a status and a body that never carries
// provider or database internals.
func writeError(c *gin.Context, err error) {
	status, body := classify(err)
	c.JSON(status, body)
}

func classify(err error) (int, gin.H) {
	switch {
	case errors.Is(err, assistant.ErrValidation), errors.Is(err, account.ErrInvalidInput):
		return http.StatusBadRequest, gin.H{"error": validationDetail(err)}
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": "conversation not found"}
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": "property not found"}
	case errors.Is(err, account.ErrEmailTaken):
		return http.StatusConflict, gin.H{"error": err.Error()}
	case errors.Is(err, account.ErrInvalidCredentials):
		return http.StatusUnauthorized, gin.H{"error": err.Error()}
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, gin.H{"error": msgBusyEN, "error_ar": msgBusyAR}
	case errors.Is(err, worker.ErrJobCanceled):
		return http.StatusConflict, gin.H{"error": msgDropEN, "error_ar": msgDropAR}
	case errors.Is(err, inference.ErrProviderRejected), errors.Is(err, inference.ErrProviderMalformedResponse):
		return http.StatusBadGateway, gin.H{"error": msgRetryEN, "error_ar": msgRetryAR}
	default:
		// provider unavailable, timeouts, store failures
		return http.StatusServiceUnavailable, gin.H{"error": msgRetryEN, "error_ar": msgRetryAR}
	}
}

// validationDetail strips the sentinel prefix, leaving the field message.
func validationDetail(err error) string {
	msg := err.Error()
	for _, prefix := range []string{assistant.ErrValidation.Error() + ": ", account.ErrInvalidInput.Error() + ": "} {
		if i := strings.Index(msg, prefix); i >= 0 {
			return msg[i+len(prefix):]
		}
	}
	return msg
}
