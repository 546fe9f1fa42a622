package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/KaramelBytes/gemdash-cli/internal/session"
	"github.com/charmbracelet/lipgloss"
)

var (
	styleHeader   = lipgloss.NewStyle().Bold(true)
	styleReady    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleLoading  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleIdle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleDisabled = lipgloss.NewStyle().Faint(true)
)

func statusStyle(st session.Status) lipgloss.Style {
	switch st {
	case session.Ready:
		return styleReady
	case session.Loading:
		return styleLoading
	case session.Failed:
		return styleFailed
	default:
		return styleIdle
	}
}

// writeStatus prints the dataset flags and one line per view.
func writeStatus(w io.Writer, s *session.Session) {
	yesNo := func(b bool) string {
		if b {
			return styleReady.Render("yes")
		}
		return styleIdle.Render("no")
	}
	up := s.UploadState()
	dataset := yesNo(s.HasDataset())
	if s.HasDataset() && up.Params != "" {
		dataset += " (" + up.Params + ")"
	}
	fmt.Fprintln(w, styleHeader.Render("Session"))
	fmt.Fprintf(w, "  dataset:  %s\n", dataset)
	fmt.Fprintf(w, "  epoch:    %d\n", s.Epoch())
	fmt.Fprintf(w, "  pca:      %s\n", yesNo(s.PCASucceeded()))
	if up.Status == session.Failed {
		fmt.Fprintf(w, "  upload:   %s %v\n", styleFailed.Render("failed"), up.Err)
	}

	sel := s.Selection()
	fmt.Fprintln(w, styleHeader.Render("Views"))
	active := s.Active()
	for _, v := range session.Views {
		st := s.State(v)
		marker := "  "
		if v == active {
			marker = "▸ "
		}
		label := fmt.Sprintf("%-13s", v.String())
		if !s.TabEnabled(v) {
			label = styleDisabled.Render(label)
		}
		badge := statusStyle(st.Status).Width(8).Render(st.Status.String())
		fmt.Fprintf(w, "%s%s %s %s\n", marker, label, badge, selectionFor(v, sel))
	}
}

// selectionFor summarises the inputs a view is fetched with.
func selectionFor(v session.View, sel session.Selection) string {
	switch v {
	case session.ViewPreview:
		return fmt.Sprintf("rows=%d", sel.PreviewRows)
	case session.ViewCategorical:
		return "variable=" + sel.Categorical
	case session.ViewOutliers:
		return "variable=" + sel.Outlier
	case session.ViewDistribution:
		return "variable=" + sel.Distribution
	case session.ViewCorrelation:
		return "variables=" + strings.Join(sel.Correlation, ",")
	case session.ViewPrediction:
		return "model=" + string(sel.Model)
	}
	return ""
}
