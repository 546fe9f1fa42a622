package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/KaramelBytes/gemdash-cli/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	repModel          string
	repRows           int
	repSkipClustering bool
	repSkipDownload   bool
)

var reportCmd = &cobra.Command{
	Use:   "report <dataset.xlsx>",
	Short: "Upload a dataset and write every view to the output directory",
	Long: `Upload a diamonds workbook, load every view, run PCA followed by K-Means and
download the predictions workbook. Tables and charts are written to the output
directory using the configured table_format and chart_format.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if repModel != "" {
			if err := c.Set("default_model", repModel); err != nil {
				return err
			}
		}
		if repRows > 0 {
			c.PreviewRows = repRows
		}
		logger := newLogger(cmd.ErrOrStderr(), c)
		sel, err := initialSelection(c)
		if err != nil {
			return err
		}
		pr, err := newPresenter(cmd.OutOrStdout(), c)
		if err != nil {
			return err
		}
		pr.tableFiles = true

		sess := session.New(newClient(c, logger), session.Options{
			Logger:    logger,
			Selection: sel,
			Active:    session.ViewPreview,
		})
		defer sess.Close()

		return runReport(cmd.Context(), cmd.OutOrStdout(), sess, pr, args[0], reportOptions{
			skipClustering: repSkipClustering,
			skipDownload:   repSkipDownload,
		})
	},
}

func init() {
	reportCmd.Flags().StringVarP(&repModel, "model", "m", "", "prediction model (overrides default_model)")
	reportCmd.Flags().IntVar(&repRows, "rows", 0, "preview row count (overrides preview_rows)")
	reportCmd.Flags().BoolVar(&repSkipClustering, "skip-clustering", false, "do not run PCA and K-Means")
	reportCmd.Flags().BoolVar(&repSkipDownload, "skip-download", false, "do not download the predictions workbook")
	rootCmd.AddCommand(reportCmd)
}

type reportOptions struct {
	skipClustering bool
	skipDownload   bool
}

func runReport(ctx context.Context, w io.Writer, sess *session.Session, pr *presenter, path string, opts reportOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	msg, err := sess.Upload(ctx, filepath.Base(path), f)
	_ = f.Close()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "✓", msg)

	// Activating each view in turn leaves every lazy fetch in flight at once.
	for _, v := range session.Views {
		sess.Activate(v)
	}
	sess.Wait()
	if !opts.skipClustering {
		sess.Run(session.ViewPCA)
		sess.Wait()
		if sess.KMeansAllowed() {
			sess.Run(session.ViewKMeans)
			sess.Wait()
		}
	}

	views := make([]session.View, 0, len(session.Views))
	for _, v := range session.Views {
		if opts.skipClustering && (v == session.ViewPCA || v == session.ViewKMeans) {
			continue
		}
		views = append(views, v)
	}
	outputs := make([]bytes.Buffer, len(views))
	failed := make([]error, len(views))
	var g errgroup.Group
	g.SetLimit(4)
	for i, v := range views {
		st := sess.State(v)
		if st.Status != session.Ready {
			failed[i] = errors.New(describe(st))
			continue
		}
		g.Go(func() error {
			if _, err := pr.withOutput(&outputs[i]).present(st); err != nil {
				failed[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	problems, total := 0, len(views)
	for i, v := range views {
		fmt.Fprintln(w, styleHeader.Render("== "+v.Title()+" =="))
		if failed[i] != nil {
			problems++
			fmt.Fprintf(w, "⚠ Warning: %v\n", failed[i])
			continue
		}
		_, _ = outputs[i].WriteTo(w)
	}

	if !opts.skipDownload {
		total++
		fmt.Fprintln(w, styleHeader.Render("== Predictions workbook =="))
		att, err := sess.Download(ctx)
		if err != nil {
			problems++
			fmt.Fprintf(w, "⚠ Warning: download failed: %v\n", err)
		} else if _, err := saveAttachment(w, pr.dir, att); err != nil {
			return err
		}
	}

	if problems > 0 {
		fmt.Fprintf(w, "\n⚠ %d of %d outputs had problems\n", problems, total)
		return nil
	}
	fmt.Fprintf(w, "\n✓ Report written to %s\n", pr.dir)
	return nil
}
