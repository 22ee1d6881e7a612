// utilitário pequeno para formatação rápida/consistente de valores numéricos
// em headers.

package ratelimit

import "strconv"

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }
