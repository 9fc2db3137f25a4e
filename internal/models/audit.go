package models

import (
	"encoding/json"
	"time"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin              = "LOGIN"
	AuditActionLogout             = "LOGOUT"
	AuditActionTokenRefresh       = "TOKEN_REFRESH"
	AuditActionSessionReuse       = "SESSION_REUSE"
	AuditActionLessonPlanCreate   = "LESSON_PLAN_CREATE"
	AuditActionLessonPlanUpdate   = "LESSON_PLAN_UPDATE"
	AuditActionLessonPlanDelete   = "LESSON_PLAN_DELETE"
	AuditActionLessonPlanReview   = "LESSON_PLAN_REVIEW"
	AuditActionLessonPlanApprove  = "LESSON_PLAN_APPROVE"
	AuditActionObservationCreate  = "OBSERVATION_CREATE"
	AuditActionObservationAdvance = "OBSERVATION_STATUS"
	AuditActionFeedbackSubmit     = "OBSERVATION_FEEDBACK"
	AuditActionObservationImport  = "OBSERVATION_IMPORT"
	AuditActionDocumentGenerate   = "LESSON_PLAN_DOCUMENT"
	AuditActionReportGenerate     = "REPORT_GENERATE"
	AuditActionUserCreate         = "USER_CREATE"
	AuditActionUserUpdate         = "USER_UPDATE"
	AuditActionUserDelete         = "USER_DELETE"
	AuditActionUserPasswordReset  = "USER_PASSWORD_RESET"
	AuditActionUserSignOut        = "USER_SESSIONS_REVOKE"
	AuditActionAssignmentCreate   = "TP_ASSIGNMENT_CREATE"
)

// AuditLog is one row of the append-only audit trail.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// NewAuditLog starts an entry about resource/resourceID. An empty actorID
// leaves the entry unattributed.
func NewAuditLog(actorID, action, resource, resourceID string, client ClientInfo) *AuditLog {
	entry := &AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	return entry
}

// Diff records the JSON form of the state before and after the change. A nil
// side stays empty.
func (l *AuditLog) Diff(before, after interface{}) *AuditLog {
	l.OldValues = auditJSON(before)
	l.NewValues = auditJSON(after)
	return l
}

func auditJSON(v interface{}) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
