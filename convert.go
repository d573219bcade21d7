package pagewatch

import (
	"time"

	"github.com/watchloop/pagewatch/internal/core"
	"github.com/watchloop/pagewatch/internal/store"
)

// recordToTarget converts the Config Store's on-disk shape into the
// domain Target type the Supervisor and Cycle Pipeline work with.
func recordToTarget(rec store.TargetRecord) core.Target {
	return core.Target{
		ID:              core.TargetID(rec.ID),
		PageRef:         rec.PageRef,
		InitialURL:      rec.InitialURL,
		Selector:        rec.Selector,
		ContentMode:     core.ContentMode(rec.ContentMode),
		Interval:        time.Duration(rec.IntervalMs) * time.Millisecond,
		ChangeDetection: rec.ChangeDetection,
		WebhookOverride: rec.WebhookOverride,
		ProfileName:     rec.ProfileName,
		Enabled:         rec.Enabled,
		LastHash:        rec.LastHash,
		LastCheckAt:     rec.LastCheckAt,
	}
}

// targetToRecord converts the domain Target type back into the Config
// Store's on-disk shape.
func targetToRecord(t core.Target) store.TargetRecord {
	return store.TargetRecord{
		ID:              string(t.ID),
		PageRef:         t.PageRef,
		InitialURL:      t.InitialURL,
		Selector:        t.Selector,
		ContentMode:     string(t.ContentMode),
		IntervalMs:      t.Interval.Milliseconds(),
		ChangeDetection: t.ChangeDetection,
		WebhookOverride: t.WebhookOverride,
		ProfileName:     t.ProfileName,
		Enabled:         t.Enabled,
		LastHash:        t.LastHash,
		LastCheckAt:     t.LastCheckAt,
	}
}
