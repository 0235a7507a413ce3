package approvehook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/modqueue/internal/wiki"
)

// Hook applies installed tasks to document writes.
type Hook struct {
	registry *Registry
	tagger   wiki.Tagger
	logger   *slog.Logger
}

// NewHook creates a hook reading tasks from registry and attaching tags
// through tagger.
func NewHook(registry *Registry, tagger wiki.Tagger, opts ...Option) *Hook {
	o := applyOptions(opts)
	return &Hook{registry: registry, tagger: tagger, logger: o.logger}
}

// Register attaches the hook to both write phases of p.
func (h *Hook) Register(p wiki.PhaseRegistrar) {
	p.OnPhase(wiki.PhasePreFinalize, h.PreFinalize)
	p.OnPhase(wiki.PhasePostFinalize, h.PostFinalize)
}

func (h *Hook) lookup(ev *wiki.PhaseEvent) (Task, bool) {
	if h.registry.Len() == 0 {
		return Task{}, false
	}
	return h.registry.Lookup(KeyOf(ev.Title, ev.User, ev.Kind))
}

// PreFinalize rewrites the pending rows with the task's metadata.
//
// The timestamp is replaced only if it would not place the new revision
// before the page's previous one; otherwise the write keeps the current
// time.
func (h *Hook) PreFinalize(_ context.Context, ev *wiki.PhaseEvent) error {
	task, ok := h.lookup(ev)
	if !ok {
		return nil
	}
	rec := ev.Record

	if !task.Timestamp.IsZero() {
		ts := task.Timestamp.UTC().Truncate(time.Second)
		if ev.PreviousTimestamp.IsZero() || !ts.Before(ev.PreviousTimestamp) {
			rec.SetTimestamp(ts)
		} else {
			h.logger.Debug("approve hook kept current timestamp",
				"title", ev.Title,
				"task_timestamp", ts,
				"previous", ev.PreviousTimestamp)
		}
	}

	if task.IP != "" {
		if rec.RecentChange != nil {
			rec.RecentChange.IP = task.IP
		}
		if rec.Tracking != nil {
			rec.Tracking.IP = task.IP
		}
	}
	if rec.Tracking != nil {
		if task.XFF != "" {
			rec.Tracking.XFF = task.XFF
		}
		if task.UserAgent != "" {
			rec.Tracking.UserAgent = task.UserAgent
		}
	}
	return nil
}

// PostFinalize attaches the task's tags to the committed rows.
func (h *Hook) PostFinalize(ctx context.Context, ev *wiki.PhaseEvent) error {
	task, ok := h.lookup(ev)
	if !ok || len(task.Tags) == 0 {
		return nil
	}
	target := wiki.TagTarget{RCID: ev.IDs.RCID, RevID: ev.IDs.RevID, LogID: ev.IDs.LogID}
	if err := h.tagger.AddTags(ctx, target, task.Tags); err != nil {
		return fmt.Errorf("apply approve hook tags: %w", err)
	}
	return nil
}
