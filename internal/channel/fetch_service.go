package channel

import "context"

type FetchService struct {
	connector Connector
	store     *MessageStore
	tenantID  string
}

type FetchResult struct {
	Fetched int
	Stored  int
}

func NewFetchService(connector Connector, store *MessageStore, tenantID string) *FetchService {
	return &FetchService{connector: connector, store: store, tenantID: tenantID}
}

func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	stored := 0
	for _, msg := range messages {
		if _, err := s.store.Store(ctx, s.tenantID, msg); err != nil {
			return FetchResult{Fetched: len(messages), Stored: stored}, err
		}
		stored++
	}
	return FetchResult{Fetched: len(messages), Stored: stored}, nil
}
