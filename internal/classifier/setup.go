package classifier

import (
	"time"

	"go.uber.org/zap"

	"orderdesk/internal/config"
	"orderdesk/internal/quota"
)

// FromConfig builds the gate for the configured classifier endpoint. Without
// CLASSIFIER_URL only the rules are used. The per-tenant budget is
// CLASSIFIER_QUOTA_PER_MINUTE calls.
func FromConfig(cfg config.Config, logger *zap.Logger) *Gate {
	var external Client
	var budget *quota.Service
	if cfg.ClassifierURL != "" {
		external = NewHTTPClient(cfg.ClassifierURL, cfg.ClassifierAPIKey, time.Duration(cfg.ClassifierTimeoutMs)*time.Millisecond)
		budget = quota.NewService(cfg.ClassifierQuotaPerMinute, time.Minute)
	}
	return NewGate(external, NewRules(), budget, cfg.ClassifierConfidenceThreshold, logger)
}
