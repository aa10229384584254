// Package sheets defines the outbound port for mirroring settlement runs to
// an external ledger.
package sheets

import (
	"context"

	"commenergy/internal/core"
)

// SettlementAppender mirrors one completed settlement run to the ledger.
type SettlementAppender interface {
	AppendRun(ctx context.Context, run core.SettlementRun) error
}
