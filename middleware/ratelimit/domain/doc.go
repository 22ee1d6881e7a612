// Package domain define contratos e tipos de domínio para o rate limit
// adaptativo multi-tier.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// (principals, tiers, policies, verdicts) de detalhes de infraestrutura
// (Redis, buffers de auditoria, breakers).
package domain
