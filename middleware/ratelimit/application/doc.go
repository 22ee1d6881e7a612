// Package application contém os casos de uso do rate limit adaptativo.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Engine.Decide(ctx, envelope) retorna uma Decision composta
// (admit/deny + headers + token de outcome); Resolver extrai os targets;
// Scorer mantém os abuse records; Registry guarda policies copy-on-write.
package application
