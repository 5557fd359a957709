// Package console renders human-readable progress and results for the CLI.
// Render functions are pure; Console writes their output to a terminal.
package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/core/rollout"
)

// Status glyphs.
const (
	GlyphPending   = "⏳"
	GlyphRunning   = "🚧"
	GlyphOK        = "✅"
	GlyphFailed    = "❌"
	GlyphCancelled = "⚠️"
	GlyphUnknown   = "❔"
	GlyphWaiting   = "🕐"
)

var spinnerFrames = spinner.Dot.Frames

// =============================================================================
// Progress
// =============================================================================

// FormatDuration renders d as HH:MM:SS. Hours are not capped at 24.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

// SpinnerFrame returns the spinner frame for tick.
func SpinnerFrame(tick int) string {
	if tick < 0 {
		tick = -tick
	}
	return strings.TrimSpace(spinnerFrames[tick%len(spinnerFrames)])
}

// StatusGlyph returns the glyph for a refresh status. An Unknown status with
// no raw value means no refresh has been reported yet.
func StatusGlyph(status rollout.Status, raw string) string {
	switch status {
	case rollout.StatusPending:
		return GlyphPending
	case rollout.StatusInProgress:
		return GlyphRunning
	case rollout.StatusSuccessful:
		return GlyphOK
	case rollout.StatusFailed:
		return GlyphFailed
	case rollout.StatusCancelled:
		return GlyphCancelled
	}
	if raw == "" {
		return GlyphWaiting
	}
	return GlyphUnknown
}

// StatusText returns the display text for a refresh status.
func StatusText(status rollout.Status, raw string) string {
	switch status {
	case rollout.StatusPending:
		return "Pending"
	case rollout.StatusInProgress:
		if raw != "" && raw != string(rollout.StatusInProgress) {
			return "In progress (" + raw + ")"
		}
		return "In progress"
	case rollout.StatusSuccessful:
		return "Completed successfully"
	case rollout.StatusFailed:
		return "Failed"
	case rollout.StatusCancelled:
		return "Cancelled"
	}
	if raw == "" {
		return "Waiting..."
	}
	return raw
}

// ProgressLine renders the single redrawn line shown while a refresh runs.
func ProgressLine(tick int, fleet string, status rollout.Status, raw string, elapsed time.Duration) string {
	return fmt.Sprintf("%s  %s  Refreshing %s - Status: %-24s %s",
		SpinnerFrame(tick), StatusGlyph(status, raw), fleet, StatusText(status, raw), FormatDuration(elapsed))
}

// ProgressLineFor renders p, adding the completion percentage and escalation
// marker when known.
func ProgressLineFor(p rollout.Progress) string {
	line := ProgressLine(p.Tick, p.Fleet, p.Status, p.Raw, p.Total)
	if p.Percent != nil {
		line += fmt.Sprintf(" %3d%%", *p.Percent)
	}
	if p.Escalated {
		line += " [rolled back]"
	}
	return line
}

// =============================================================================
// Results
// =============================================================================

// SetStatusLines renders the live, rollback and last pushed state of a set.
func SetStatusLines(s *release.SetStatus) []string {
	lines := []string{"📦 " + s.Set.String()}
	lines = append(lines, aliasLines(s.Set, s.Live)...)
	lines = append(lines, aliasLines(s.Set, s.Rollback)...)
	lines = append(lines, refLines(s.Set, "last pushed", s.LastPushed)...)
	return lines
}

func aliasLines(set release.ArtifactSet, a release.AliasStatus) []string {
	return refLines(set, a.Name, a.Ref)
}

func refLines(set release.ArtifactSet, label string, ref *release.ArtifactRef) []string {
	if ref == nil {
		return []string{fmt.Sprintf("• %s: %s", label, GlyphFailed)}
	}
	lines := []string{fmt.Sprintf("• %s: %s", label, GlyphOK)}
	if ref.BuildID != "" {
		lines = append(lines, "  🏷 "+ref.BuildID)
	} else {
		lines = append(lines, "  found but build id unknown")
	}
	if ref.Digest != "" {
		lines = append(lines, "  # "+release.ShortDigest(ref.Digest))
	}
	if url := release.RefURL(set, *ref); url != "" {
		lines = append(lines, "  🌐 "+url)
	}
	return lines
}

// PromotionLines renders a promotion result.
func PromotionLines(r *release.PromotionResult) []string {
	if r.Outcome == release.OutcomeAlreadyPromoted {
		return []string{fmt.Sprintf("ℹ️ %s already points to %s, nothing to promote", r.Aliases.Live, r.To.Label())}
	}
	var lines []string
	if r.ArchiveSkipped {
		lines = append(lines, fmt.Sprintf("%s %s already holds the live artifact, archive skipped", GlyphCancelled, r.Aliases.Rollback))
	}
	if r.Archived && r.From != nil {
		lines = append(lines, fmt.Sprintf("🗄 Archived %s to %s", r.From.Label(), r.Aliases.Rollback))
	}
	lines = append(lines, fmt.Sprintf("%s Promoted %s to %s", GlyphOK, r.To.Label(), r.Aliases.Live))
	return lines
}

// RollbackLines renders a rollback result.
func RollbackLines(r *release.RollbackResult) []string {
	if r.Swapped && r.Previous != nil {
		return []string{
			fmt.Sprintf("%s Rolled back %s to %s", GlyphOK, r.Aliases.Live, r.To.Label()),
			fmt.Sprintf("🔁 %s now holds %s", r.Aliases.Rollback, r.Previous.Label()),
		}
	}
	lines := []string{fmt.Sprintf("%s Rolled back %s to %s", GlyphOK, r.Aliases.Live, r.To.Label())}
	if r.Previous != nil {
		lines = append(lines, fmt.Sprintf("  replaced %s", r.Previous.Label()))
	}
	return lines
}

// RolloutSummary renders the end of a rollout session.
func RolloutSummary(s rollout.Summary) []string {
	var head string
	switch {
	case s.State == rollout.StateSucceeded:
		head = fmt.Sprintf("%s Rollout of %s completed successfully", GlyphOK, s.Fleet)
	case s.Escalated:
		head = fmt.Sprintf("%s Rollout of %s failed after rolling back the live artifact", GlyphFailed, s.Fleet)
	default:
		head = fmt.Sprintf("%s Rollout of %s failed", GlyphFailed, s.Fleet)
	}
	lines := []string{
		head,
		"  Refresh: " + s.RefreshID,
		"  Status:  " + string(s.LastStatus),
		"  Elapsed: " + FormatDuration(s.Elapsed),
	}
	if s.Error != "" {
		lines = append(lines, "  Error:   "+s.Error)
	}
	return lines
}

// RefreshStartedLines renders a freshly started refresh.
func RefreshStartedLines(fleet, region, refreshID string) []string {
	return []string{
		"🚀 Started instance refresh",
		"  ASG:     " + fleet,
		"  Region:  " + region,
		"  Refresh: " + refreshID,
	}
}
