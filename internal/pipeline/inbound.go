package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"orderdesk/internal"
	"orderdesk/internal/channel"
	"orderdesk/internal/storage"
)

// ProcessInbound runs a stored channel message through ProcessMessage and
// records the result on the message. The message body, html order tables and
// attachments are reduced to order text first.
func (s *Service) ProcessInbound(ctx context.Context, msg internal.InboundMessage) (Result, error) {
	raw, err := os.ReadFile(msg.RawRef)
	if err != nil {
		return Result{}, fmt.Errorf("read raw message %s: %w", msg.ID, err)
	}
	doc, err := channel.ReadDocument(raw)
	if err != nil {
		s.markInbound(ctx, msg, storage.StatusFailed, map[string]string{"error": err.Error()})
		return Result{}, err
	}

	text := doc.Text()
	if strings.TrimSpace(text) == "" {
		text = firstNonEmpty(doc.Subject, msg.Subject)
	}
	res := s.ProcessMessage(ctx, msg.TenantID, msg.ConversationID, text)

	s.markInbound(ctx, msg, inboundStatus(res), res)
	return res, nil
}

// inboundStatus leaves transient failures fetched so the next cycle picks them up again.
func inboundStatus(res Result) string {
	switch {
	case res.Retryable():
		return storage.StatusFetched
	case res.Kind == KindError:
		return storage.StatusFailed
	default:
		return storage.StatusProcessed
	}
}

func (s *Service) markInbound(ctx context.Context, msg internal.InboundMessage, status string, result any) {
	body, err := json.Marshal(result)
	if err != nil {
		body = []byte(`{}`)
	}
	if err := s.db.Queries().UpdateInboundStatus(ctx, msg.ID, status, string(body)); err != nil {
		s.logger.Warn("failed to update inbound status",
			zap.String("message", msg.ID),
			zap.String("status", status),
			zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
