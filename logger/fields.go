package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across dialpulse.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldScheduleID          = "schedule_id"
	FieldScheduleExecutionID = "schedule_execution_id"
	FieldCampaignID          = "campaign_id"
	FieldCampaignExecutionID = "campaign_execution_id"
	FieldRecordID            = "record_id"
	FieldContactID           = "contact_id"
	FieldInstanceID          = "instance_id"

	// Components
	FieldComponent = "component"

	// Rate accounting
	FieldLocalCPS  = "local_cps"
	FieldGlobalCPS = "global_cps"
	FieldInstances = "instances"
	FieldOrdinal   = "ordinal"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldElapsedMS  = "elapsed_ms"

	// Errors
	FieldError  = "error"
	FieldReason = "reason"

	// Counts
	FieldCount     = "count"
	FieldBatchSize = "batch_size"

	// Status
	FieldStatus = "status"

	FieldSymbol = "symbol"
)

type contextKey string

const (
	campaignExecutionKey contextKey = "logger_campaign_execution_id"
	componentKey         contextKey = "logger_component"
)

// WithCampaignExecutionID adds a campaign execution ID to the context for logging
func WithCampaignExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, campaignExecutionKey, id)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(campaignExecutionKey).(string); ok && id != "" {
		fields = append(fields, FieldCampaignExecutionID, id)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	sched := dispatch.NewScheduler(deps, cfg, logger.ComponentLogger("pulse.dispatch"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
