// Package ratelimit fornece os adapters HTTP (net/http) do rate limit
// adaptativo multi-tier e do limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (engine de decisão, resolver, scorer,
//     registry, emergência) sem net/http
//   - infra: implementações concretas (Redis, fallback local, breakers,
//     pipe de auditoria, scheduler), detalhes de infraestrutura
//   - ratelimit (este pacote): middlewares HTTP + construção do envelope +
//     tradução para status/headers + admin surface
//
// Fluxo no gateway:
//
//  1. Constrói o envelope a partir da requisição (IP/headers/método/path)
//  2. Chama o engine para obter a decisão composta (até 3 policies)
//  3. Se negado, responde 429 (rate limit/abuso) ou 503 (breaker/emergência)
//     com X-RateLimit-* e Retry-After
//  4. Se admitido, chama o próximo handler e reporta o status downstream
//     no post-hook (skip_on_success, breaker, sinais de abuso)
//
// O admin surface é um ingress separado (nunca passa pelo limiter) para que
// emergência possa ser desligada mesmo sob lockdown.
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o
// comportamento, como COUNTER_STORE_URL, POLICY_FILE e EMERGENCY_MULTIPLIER.
package ratelimit
