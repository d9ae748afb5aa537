package types

// GateState is the verdict of a freshness gate evaluation.
type GateState string

// GateState values enumerate the possible gate verdicts.
const (
	GateValid        GateState = "VALID"
	GateDegraded     GateState = "DEGRADED"
	GateMissingFeedA GateState = "MISSING_FEED_A"
	GateMissingFeedB GateState = "MISSING_FEED_B"
	GateLagExceeded  GateState = "LAG_EXCEEDED"
	GateError        GateState = "ERROR"
)

// Passes reports whether the state opens the gate for downstream stages.
func (s GateState) Passes() bool {
	return s == GateValid || s == GateDegraded
}

// FailureCategory classifies why an external call failed.
type FailureCategory string

const (
	FailureTransient FailureCategory = "TRANSIENT"
	FailurePermanent FailureCategory = "PERMANENT"
	FailureTimeout   FailureCategory = "TIMEOUT"
)

// StageName identifies one of the fixed pipeline stages.
type StageName string

// StageName values in execution order.
const (
	StageGate      StageName = "gate"
	StageIngestA   StageName = "ingestA"
	StageIngestB   StageName = "ingestB"
	StageScore     StageName = "score"
	StagePublish   StageName = "publish"
	StageTranslate StageName = "translate"
)

// StageOrder is the fixed execution order of a pipeline run.
var StageOrder = []StageName{
	StageGate,
	StageIngestA,
	StageIngestB,
	StageScore,
	StagePublish,
	StageTranslate,
}

// StageStatus is the outcome of a single stage.
type StageStatus string

const (
	StageSucceeded StageStatus = "SUCCEEDED"
	StageFailed    StageStatus = "FAILED"
)

// Track is the publication track chosen by confidence routing.
type Track string

const (
	TrackHighSignal Track = "high-signal"
	TrackDefault    Track = "default"
)

// EpisodeStatus decides whether a scored artifact is published or held back.
type EpisodeStatus string

const (
	EpisodePublished EpisodeStatus = "published"
	EpisodeDraft     EpisodeStatus = "draft"
)

// AlertLevel is the severity of a run notification.
type AlertLevel string

const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)

// AlertType selects a notification sink backend.
type AlertType string

const (
	AlertConsole     AlertType = "console"
	AlertWebhook     AlertType = "webhook"
	AlertFile        AlertType = "file"
	AlertEventBridge AlertType = "eventbridge"
)
