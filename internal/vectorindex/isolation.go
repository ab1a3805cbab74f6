package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/icmemd/internal/tenant"
)

// firmFilterKey is the metadata key carrying firm identity. User filters may
// never set it; the isolation layer always wins.
const firmFilterKey = "firm_id"

// ErrFirmFilterInUserFilters indicates a caller tried to smuggle a firm
// predicate through user filters.
var ErrFirmFilterInUserFilters = errors.New("user filters cannot contain firm_id")

// firmScope resolves and validates the firm identity for an operation.
// Every storage-reaching code path goes through this; a missing or invalid
// identity fails closed.
func firmScope(ctx context.Context) (*tenant.FirmInfo, error) {
	firm, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := firm.Validate(); err != nil {
		return nil, err
	}
	return firm, nil
}

// injectFirmFilter conjoins the firm predicate with user filters, rejecting
// user-supplied firm_id keys.
func injectFirmFilter(firm *tenant.FirmInfo, userFilters map[string]string) (map[string]string, error) {
	for key := range userFilters {
		if key == firmFilterKey {
			return nil, ErrFirmFilterInUserFilters
		}
	}
	merged := make(map[string]string, len(userFilters)+1)
	for k, v := range userFilters {
		merged[k] = v
	}
	for k, v := range firm.Filter() {
		merged[k] = v
	}
	return merged, nil
}

// verifyFirmOwnership is the storage-boundary audit: it re-checks that every
// retrieved match carries the requesting firm's identifier. A foreign row is
// an isolation violation aborting the whole result set, because a silently
// dropped row would hide the defect that produced it.
func verifyFirmOwnership(firm *tenant.FirmInfo, metadatas []map[string]string) error {
	for _, meta := range metadatas {
		owner := meta[firmFilterKey]
		if owner != firm.FirmID {
			isolationViolationsTotal.Inc()
			return fmt.Errorf("%w: record owned by %q returned under firm %q",
				ErrIsolationViolation, owner, firm.FirmID)
		}
	}
	return nil
}

// firmCollection derives the structural collection name for a firm.
// Identifiers are sanitized to the character set chromem accepts.
func firmCollection(firmID string) string {
	var b strings.Builder
	b.WriteString("firm_")
	for _, r := range firmID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	b.WriteString("_chunks")
	return b.String()
}
