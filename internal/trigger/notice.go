package trigger

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gpuwatchhq/gpuwatch/internal/config"
	"github.com/gpuwatchhq/gpuwatch/internal/selector"
	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

// ComposeNotice builds the availability notification for result.
func ComposeNotice(cfg *config.Config, result selector.Result, now time.Time) types.Notification {
	id := uuid.NewString()
	addr := cfg.Remote.Address()
	eligible := slices.Clone(result.Eligible)

	var body strings.Builder
	fmt.Fprintf(&body, "Host: %s\n", addr)
	fmt.Fprintf(&body, "Notification: %s\n", id)
	fmt.Fprintf(&body, "Time: %s\n", now.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&body, "Available GPUs: %v\n", eligible)
	if result.Report != "" {
		body.WriteString("\nInventory:\n")
		body.WriteString(result.Report)
		body.WriteString("\n")
	}

	return types.Notification{
		ID:         id,
		CreatedAt:  now,
		Eligible:   eligible,
		Subject:    fmt.Sprintf("GPU available: %v on %s", eligible, addr),
		Body:       body.String(),
		Recipients: slices.Clone(cfg.Mail.Recipients),
	}
}
