package application

import (
	"math"
	"sync/atomic"

	"arena-gateway/middleware/ratelimit/domain"
)

// EmergencyController é o interruptor de lockdown da plataforma: ligado,
// todo effective_max cai para ceil(max * multiplier) (default 0.1).
type EmergencyController struct {
	active     atomic.Bool
	multiplier float64
	emit       func(domain.AuditEvent)
}

// NewEmergencyController cria o controlador. emit é opcional (auditoria).
func NewEmergencyController(multiplier float64, emit func(domain.AuditEvent)) *EmergencyController {
	if multiplier <= 0 || multiplier >= 1 {
		multiplier = 0.1
	}
	return &EmergencyController{multiplier: multiplier, emit: emit}
}

// Active reporta se o modo de emergência está ligado.
func (e *EmergencyController) Active() bool { return e.active.Load() }

// Set liga/desliga o modo e grava a mudança no stream de auditoria.
func (e *EmergencyController) Set(on bool, actor string) {
	if e.active.Swap(on) == on {
		return
	}
	if e.emit != nil {
		detail := "emergency-off"
		if on {
			detail = "emergency-on"
		}
		e.emit(domain.AuditEvent{
			Principal: actor,
			Verdict:   domain.VerdictEmergency,
			Reason:    domain.ReasonEmergency,
			Detail:    detail,
		})
	}
}

// Apply reduz o effective_max quando o modo está ativo.
func (e *EmergencyController) Apply(effectiveMax int64) int64 {
	if !e.Active() {
		return effectiveMax
	}
	reduced := int64(math.Ceil(float64(effectiveMax) * e.multiplier))
	if reduced < 1 {
		reduced = 1
	}
	return reduced
}
