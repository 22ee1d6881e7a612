// Package infra contém implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - RedisCounterStore: increment-and-expire atômico via script Lua
//   - MemoryCounterStore: janelas fixas em memória (fallback)
//   - FailoverCounterStore: alterna entre os dois conforme a saúde dos probes
//   - BreakerSet: circuit breakers por classe de operação
//   - AuditPipe: fila bounded drenada para um AuditSink
//   - Scheduler: tarefas periódicas com skip de execuções sobrepostas
package infra
