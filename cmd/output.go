package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/KaramelBytes/gemdash-cli/internal/dataset"
	"github.com/KaramelBytes/gemdash-cli/internal/payload"
	"github.com/KaramelBytes/gemdash-cli/internal/render"
	"github.com/KaramelBytes/gemdash-cli/internal/service"
	"github.com/KaramelBytes/gemdash-cli/internal/session"
)

// presenter turns view payloads into terminal text and output files.
type presenter struct {
	out    io.Writer
	dir    string
	tables render.TableFormat
	charts render.ChartRenderer
	// tableFiles sends tables to dir instead of out.
	tableFiles bool
}

// withOutput returns a copy writing text to w.
func (p *presenter) withOutput(w io.Writer) *presenter {
	cp := *p
	cp.out = w
	return &cp
}

// present writes a Ready view and returns the files it created.
func (p *presenter) present(st session.ViewState) ([]string, error) {
	name := st.View.String()
	switch pl := st.Payload.(type) {
	case payload.Records:
		return p.table(name, pl)
	case *payload.Chart:
		return p.chart(name, pl)
	case *service.Prediction:
		fmt.Fprintf(p.out, "Model: %s  R²: %s\n", pl.Model.Label(), pl.RSquaredText())
		files, err := p.chart(name+"_"+string(pl.Model), pl.Chart)
		if err != nil {
			return files, err
		}
		if len(pl.Preview) > 0 {
			more, err := p.table(name+"_"+string(pl.Model), pl.Preview)
			files = append(files, more...)
			if err != nil {
				return files, err
			}
		}
		return files, nil
	case *service.PCAResult:
		return p.chartPair(name, "scree", pl.Scree, "contribution", pl.Contribution)
	case *service.KMeansResult:
		files, err := p.chartPair(name, "elbow", pl.Elbow, "clusters", pl.Clusters)
		if err != nil {
			return files, err
		}
		fmt.Fprintln(p.out, "Cluster means:")
		more, err := p.table(name+"_means", pl.ClusterMeans)
		return append(files, more...), err
	case nil:
		return nil, fmt.Errorf("%s has no result", name)
	}
	return nil, fmt.Errorf("%s: unsupported payload %T", name, st.Payload)
}

func (p *presenter) chartPair(prefix, a string, ca *payload.Chart, b string, cb *payload.Chart) ([]string, error) {
	fa, err := p.chart(prefix+"_"+a, ca)
	if err != nil {
		return fa, err
	}
	fb, err := p.chart(prefix+"_"+b, cb)
	return append(fa, fb...), err
}

func (p *presenter) table(name string, rs payload.Records) ([]string, error) {
	if !p.tableFiles {
		return nil, render.WriteTable(p.out, rs, p.tables)
	}
	path := filepath.Join(p.dir, name+p.tables.Ext())
	if err := writeFile(path, func(w io.Writer) error { return render.WriteTable(w, rs, p.tables) }); err != nil {
		return nil, err
	}
	fmt.Fprintf(p.out, "✓ Wrote %s (%d rows)\n", path, len(rs))
	return []string{path}, nil
}

func (p *presenter) chart(name string, c *payload.Chart) ([]string, error) {
	if c == nil {
		return nil, nil
	}
	path := filepath.Join(p.dir, name+p.charts.Ext())
	if err := writeFile(path, func(w io.Writer) error { return p.charts.Render(w, c) }); err != nil {
		return nil, err
	}
	title := c.Layout.Title
	if title == "" {
		title = name
	}
	fmt.Fprintf(p.out, "✓ Wrote %s (%s)\n", path, title)
	return []string{path}, nil
}

// writeFile fills a temp file next to path and renames it into place.
func writeFile(path string, fill func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir output dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if err := fill(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// saveAttachment stores a downloaded file under dir and, for prediction
// workbooks, prints a fit summary computed from its sheet.
func saveAttachment(w io.Writer, dir string, att *service.Attachment) (string, error) {
	path := filepath.Join(dir, att.Filename)
	if err := writeFile(path, func(f io.Writer) error {
		_, err := f.Write(att.Data)
		return err
	}); err != nil {
		return "", err
	}
	fmt.Fprintf(w, "✓ Saved %s (%d bytes)\n", path, len(att.Data))

	sum, err := dataset.SummarizePredictions(att.Data)
	if err != nil {
		fmt.Fprintf(w, "⚠ Warning: could not summarize %s: %v\n", att.Filename, err)
		return path, nil
	}
	fmt.Fprintf(w, "  rows: %d", sum.Rows)
	if sum.Skipped > 0 {
		fmt.Fprintf(w, " (%d skipped)", sum.Skipped)
	}
	fmt.Fprintf(w, "\n  R²: %.4f  RMSE: %.2f  MAE: %.2f\n", sum.RSquared, sum.RMSE, sum.MAE)
	return path, nil
}

// describe renders a view state that has no payload to show.
func describe(st session.ViewState) string {
	switch st.Status {
	case session.Loading:
		return fmt.Sprintf("%s is loading", st.View.Title())
	case session.Failed:
		var pe *session.PreconditionError
		if errors.As(st.Err, &pe) {
			return fmt.Sprintf("%s unavailable: %v", st.View.Title(), st.Err)
		}
		return fmt.Sprintf("%s failed: %v", st.View.Title(), st.Err)
	case session.Idle:
		return fmt.Sprintf("%s has not been loaded (open it with `tab %s` or `run %s`)", st.View.Title(), st.View, st.View)
	}
	return st.View.Title()
}
