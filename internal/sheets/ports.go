package sheets

import (
	"context"
)

// Ports for outbound adapters.
type (
	// RowSource fetches the raw cell matrix of one named sheet, header row
	// excluded. Implementations must not mutate returned slices on later
	// calls.
	RowSource interface {
		FetchRows(ctx context.Context, sheetName string) ([][]string, error)
	}
)
