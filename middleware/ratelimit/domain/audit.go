package domain

import (
	"context"
	"time"
)

// AuditVerdict classifica um evento do stream de auditoria.
//
// Além dos verdicts de decisão (admit/deny/emergency/breaker-open), o stream
// carrega eventos de sistema: degradação do counter store, ações de admin,
// cruzamentos de score de abuso, snapshots de saúde e erros do engine.
type AuditVerdict string

const (
	VerdictAdmit       AuditVerdict = "admit"
	VerdictDeny        AuditVerdict = "deny"
	VerdictEmergency   AuditVerdict = "emergency"
	VerdictBreakerOpen AuditVerdict = "breaker-open"

	VerdictDegradedStore AuditVerdict = "degraded-counter-store"
	VerdictAdminAction   AuditVerdict = "admin-action"
	VerdictAbuseScore    AuditVerdict = "abuse-score"
	VerdictEngineError   AuditVerdict = "engine-error"
	VerdictHealth        AuditVerdict = "health"
)

// AuditEvent é append-only; nunca expõe estado interno além do registrado.
type AuditEvent struct {
	ID         string
	At         time.Time
	Principal  string
	Tier       Tier
	Operation  OperationClass
	Policy     string
	Verdict    AuditVerdict
	Reason     Reason
	Remaining  int64
	AbuseScore float64
	LatencyUS  int64
	Detail     string
}

// AuditSink recebe lotes do pipe de auditoria. Qualquer backend serve:
// log estruturado, stream Redis, memória em testes.
//
// O pipe trata erro como best-effort (conta perda, não derruba decisão).
type AuditSink interface {
	Write(ctx context.Context, batch []AuditEvent) error
}
