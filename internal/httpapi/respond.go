package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"

	"tgrelay/internal/delivery"
	"tgrelay/internal/storage"
	kit "tgrelay/internal/transport"
	logx "tgrelay/pkg/logx"
)

var (
	errEmptyBody  = errors.New("Request body cannot be empty")
	errSendFailed = errors.New("Failed to send message")
)

func fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": err.Error()})
}

func failMsg(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// bindBody decodes the JSON body into dst and returns the set of top-level
// keys present. A missing, null or empty object body is rejected like the
// other routes expect.
func bindBody(c *gin.Context, dst any) (map[string]json.RawMessage, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	body, err := c.GetRawData()
	if err != nil {
		failMsg(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		fail(c, http.StatusBadRequest, errEmptyBody)
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		failMsg(c, http.StatusBadRequest, "Request body must be a JSON object")
		return nil, false
	}
	if len(fields) == 0 {
		fail(c, http.StatusBadRequest, errEmptyBody)
		return nil, false
	}
	if err := binding.JSON.BindBody(body, dst); err != nil {
		failMsg(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return nil, false
	}
	return fields, true
}

func missingFields(fields map[string]json.RawMessage, required ...string) []string {
	var out []string
	for _, f := range required {
		if _, ok := fields[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

func (s *Server) message(text string, mode kit.ParseMode) kit.Message {
	return kit.Message{Text: text, ParseMode: mode, DisablePreview: s.config().DisablePreview}
}

func batchBody(msg string, res delivery.BatchResult) gin.H {
	return gin.H{
		"success":      true,
		"message":      msg,
		"batch_id":     res.ID,
		"sent_count":   res.SentCount(),
		"failed_count": res.FailedCount(),
		"results": gin.H{
			"success": res.Succeeded,
			"failed":  res.Failed,
		},
	}
}

// respondBatch writes the batch response and records it. An interrupted
// batch (client gone, shutdown) is reported as a server error with the
// partial counts.
func (s *Server) respondBatch(c *gin.Context, msg string, res delivery.BatchResult, err error) {
	s.auditBatch(c, res, err)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"success":      false,
			"error":        "delivery interrupted: " + err.Error(),
			"batch_id":     res.ID,
			"sent_count":   res.SentCount(),
			"failed_count": res.FailedCount(),
		})
		return
	}
	c.JSON(http.StatusOK, batchBody(msg, res))
}

// respondOne writes the single-destination response and records it.
func (s *Server) respondOne(c *gin.Context, okMsg string, out delivery.Outcome, language any) {
	s.auditOne(c, out)
	if !out.Succeeded {
		fail(c, http.StatusInternalServerError, errSendFailed)
		return
	}
	body := gin.H{
		"success": true,
		"message": okMsg,
		"chat_id": out.Destination,
	}
	if language != nil {
		body["language"] = language
	}
	c.JSON(http.StatusOK, body)
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Server) auditOne(c *gin.Context, out delivery.Outcome) {
	rec := storage.DeliveryRecord{
		At:      time.Now(),
		BatchID: uuid.NewString(),
		Route:   c.FullPath(),
		TookMS:  out.Took.Milliseconds(),
	}
	switch {
	case out.Canceled:
		rec.Status = "canceled"
		rec.Error = out.Error
	case out.Succeeded:
		rec.Status = string(delivery.StatusCompleted)
		rec.Sent = 1
	default:
		rec.Status = string(delivery.StatusFailed)
		rec.Failed = 1
		rec.FailedDestinations = []string{out.Destination.String()}
		rec.Error = out.Error
	}
	s.audit(rec)
}

func (s *Server) auditBatch(c *gin.Context, res delivery.BatchResult, err error) {
	rec := storage.DeliveryRecord{
		At:      time.Now(),
		BatchID: res.ID,
		Route:   c.FullPath(),
		Status:  string(res.Status()),
		Sent:    res.SentCount(),
		Failed:  res.FailedCount(),
		TookMS:  res.Took.Milliseconds(),
	}
	for _, o := range res.Outcomes {
		if !o.Succeeded {
			rec.FailedDestinations = append(rec.FailedDestinations, o.Destination.String())
			if rec.Error == "" {
				rec.Error = o.Error
			}
		}
	}
	if err != nil {
		rec.Status = "canceled"
		rec.Error = err.Error()
	}
	s.audit(rec)
}

func (s *Server) audit(rec storage.DeliveryRecord) {
	if s.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.AppendDelivery(ctx, rec); err != nil {
		s.log.Warn("delivery audit write failed", logx.String("batch", rec.BatchID), logx.Err(err))
	}
}
