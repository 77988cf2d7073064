// Package listener polls the inbound channel and feeds stored messages to the
// pipeline. Conversations run in parallel up to a bound; messages of one
// conversation are processed strictly in arrival order.
package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderdesk/internal"
	"orderdesk/internal/channel"
	gmailchannel "orderdesk/internal/channel/gmail"
	imapchannel "orderdesk/internal/channel/imap"
	"orderdesk/internal/config"
	"orderdesk/internal/locker"
	"orderdesk/internal/pipeline"
	"orderdesk/internal/storage"
)

// Processor handles one stored message.
type Processor interface {
	ProcessInbound(ctx context.Context, msg internal.InboundMessage) (pipeline.Result, error)
}

// Pending lists stored messages waiting for processing.
type Pending interface {
	ListInboundByStatus(ctx context.Context, status string, limit int) ([]internal.InboundMessage, error)
}

type Service struct {
	fetch     *channel.FetchService
	pending   Pending
	processor Processor
	cfg       config.Config
	logger    *zap.Logger
}

type CycleReport struct {
	Fetched   int
	Stored    int
	Processed int
	Failed    int
}

// New wires a listener over an explicit fetch service; fetch may be nil to only
// drain already stored messages.
func New(fetch *channel.FetchService, pending Pending, processor Processor, cfg config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{fetch: fetch, pending: pending, processor: processor, cfg: cfg, logger: logger}
}

// NewService builds the configured mail connector and listener.
func NewService(ctx context.Context, db *storage.DB, processor Processor, cfg config.Config, logger *zap.Logger) (*Service, error) {
	connector, err := MakeConnector(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := channel.NewMessageStore(db.Queries(), cfg.RawMessageDir)
	fetch := channel.NewFetchService(connector, store, cfg.DefaultTenantID)
	return New(fetch, db.Queries(), processor, cfg, logger), nil
}

func MakeConnector(ctx context.Context, cfg config.Config) (channel.Connector, error) {
	switch provider := strings.ToLower(strings.TrimSpace(cfg.ListenerProvider)); provider {
	case "gmail":
		return gmailchannel.NewConnector(ctx, cfg)
	case "imap":
		return imapchannel.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}

// Run polls until ctx is cancelled. Cycle errors are logged, not fatal.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.ListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	for {
		report, err := s.RunCycle(ctx)
		if err != nil {
			s.logger.Error("listener cycle failed", zap.Error(err))
		} else {
			s.logger.Info("listener cycle done",
				zap.String("provider", s.cfg.ListenerProvider),
				zap.Int("fetched", report.Fetched),
				zap.Int("stored", report.Stored),
				zap.Int("processed", report.Processed),
				zap.Int("failed", report.Failed))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{}
	if s.fetch != nil {
		fetched, err := s.fetch.FetchAndStore(ctx, s.cfg.ListenerLabel, s.cfg.ListenerFetchMax)
		report.Fetched, report.Stored = fetched.Fetched, fetched.Stored
		if err != nil {
			return report, fmt.Errorf("fetch: %w", err)
		}
	}

	pending, err := s.pending.ListInboundByStatus(ctx, storage.StatusFetched, s.cfg.ListenerProcessBatch)
	if err != nil {
		return report, err
	}
	processed, failed, err := s.processAll(ctx, pending)
	report.Processed, report.Failed = processed, failed
	return report, err
}

type conversation struct {
	key      string
	messages []internal.InboundMessage
}

// groupByConversation keeps first-seen order of conversations and arrival
// order inside each.
func groupByConversation(messages []internal.InboundMessage) []conversation {
	index := map[string]int{}
	var out []conversation
	for _, m := range messages {
		key := locker.ConversationKey(m.TenantID, m.ConversationID)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, conversation{key: key})
		}
		out[i].messages = append(out[i].messages, m)
	}
	return out
}

func (s *Service) processAll(ctx context.Context, messages []internal.InboundMessage) (int, int, error) {
	groups := groupByConversation(messages)
	processed := make([]int, len(groups))
	failed := make([]int, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.ListenerParallel
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, conv := range groups {
		i, conv := i, conv
		g.Go(func() error {
			for _, msg := range conv.messages {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := s.processor.ProcessInbound(gctx, msg)
				if err != nil {
					// later messages of this conversation wait for the next cycle
					s.logger.Warn("inbound message failed",
						zap.String("message", msg.ID),
						zap.String("conversation", msg.ConversationID),
						zap.Error(err))
					failed[i]++
					return nil
				}
				if res.Retryable() {
					s.logger.Info("inbound message deferred",
						zap.String("message", msg.ID),
						zap.String("conversation", msg.ConversationID),
						zap.String("code", string(res.Payload.ErrorCode)))
					failed[i]++
					return nil
				}
				if res.Kind == pipeline.KindError {
					failed[i]++
				} else {
					processed[i]++
				}
			}
			return nil
		})
	}
	err := g.Wait()

	p, f := 0, 0
	for i := range groups {
		p += processed[i]
		f += failed[i]
	}
	return p, f, err
}
