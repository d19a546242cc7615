package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kilnlabs/sessiond/internal/eventstore"
)

// Viewer formats session event trees for operator inspection, grounded on
// the teacher's Replayer but sourced from the live event store instead of a
// JSONL session file.
type Viewer struct {
	store   *eventstore.Store
	verbose bool
}

func NewViewer(store *eventstore.Store, verbose bool) *Viewer {
	return &Viewer{store: store, verbose: verbose}
}

// ListSessions prints a table of every session across all workspaces.
func (v *Viewer) ListSessions(ctx context.Context, w io.Writer) error {
	sessions, err := v.store.ListAllSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no sessions"))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWORKSPACE\tMODEL\tSTATUS\tEVENTS\tMSGS\tLAST ACTIVITY")
	for _, s := range sessions {
		status := "active"
		if !s.Active() {
			status = "ended"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.WorkspaceID, s.LatestModel, status, s.EventCount, s.MessageCount,
			s.LastActivityAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// Render builds the full formatted timeline for a session: header, event
// sequence, then aggregate summary.
func (v *Viewer) Render(ctx context.Context, sessionID string) (string, error) {
	sess, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	events, err := v.store.GetEventsBySession(ctx, sessionID, eventstore.SessionBounds{Limit: 0})
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	fmt.Fprintln(&buf)
	fmt.Fprintf(&buf, "%s %s\n", titleStyle.Render("SESSION"), valueStyle.Render(sess.ID))
	fmt.Fprintln(&buf, divider)
	fmt.Fprintf(&buf, "%s %s\n", labelStyle.Render("Workspace:"), valueStyle.Render(sess.WorkspaceID))
	fmt.Fprintf(&buf, "%s %s\n", labelStyle.Render("Directory:"), valueStyle.Render(sess.WorkingDirectory))
	fmt.Fprintf(&buf, "%s %s\n", labelStyle.Render("Model:    "), valueStyle.Render(sess.LatestModel))
	fmt.Fprintf(&buf, "%s %s\n", labelStyle.Render("Created:  "), valueStyle.Render(sess.CreatedAt.Format(time.RFC3339)))
	fmt.Fprintln(&buf)

	fmt.Fprintf(&buf, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(events))))
	fmt.Fprintln(&buf, divider)
	for i, evt := range events {
		formatEvent(&buf, i+1, evt, v.verbose)
	}

	fmt.Fprintln(&buf, divider)
	if sess.Active() {
		fmt.Fprintln(&buf, warnStyle.Render("ACTIVE"))
	} else {
		fmt.Fprintln(&buf, successStyle.Render("ENDED"))
	}
	fmt.Fprintf(&buf, "%s turns=%d tokens_in=%d tokens_out=%d cache_read=%d cost=$%.4f\n",
		labelStyle.Render("summary:"), sess.TurnCount, sess.TokensIn, sess.TokensOut, sess.CacheReadTokens, sess.CumulativeCost)

	return buf.String(), nil
}
