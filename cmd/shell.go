package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/KaramelBytes/gemdash-cli/internal/service"
	"github.com/KaramelBytes/gemdash-cli/internal/session"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var shellAsync bool

var shellCmd = &cobra.Command{
	Use:     "shell [dataset.xlsx]",
	Aliases: []string{"repl"},
	Short:   "Interactive dashboard over the analysis service",
	Long: `Open an interactive session. Views are opened with "tab <view>" and fetch
lazily; PCA and K-Means run only with "run pca" and "run kmeans". Type "help" for
all commands.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cmd.ErrOrStderr(), c).With("shell", uuid.NewString())
		sel, err := initialSelection(c)
		if err != nil {
			return err
		}
		sess := session.New(newClient(c, logger), session.Options{
			Logger:    logger,
			Selection: sel,
			Active:    session.ViewPreview,
		})
		defer sess.Close()

		if c.HistoryFile != "" {
			if err := os.MkdirAll(filepath.Dir(c.HistoryFile), 0o755); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠ Warning: history disabled: %v\n", err)
				c.HistoryFile = ""
			}
		}
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "gemdash> ",
			HistoryFile:     c.HistoryFile,
			AutoComplete:    shellCompleter(),
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize shell: %w", err)
		}
		defer func() { _ = rl.Close() }()

		out := rl.Stdout()
		pr, err := newPresenter(out, c)
		if err != nil {
			return err
		}
		sh := newShell(sess, pr, out)
		sh.async.Store(shellAsync)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go sh.watch(ctx, out)

		fmt.Fprintf(out, "gemdash shell (service: %s)\n", c.ServiceURL)
		fmt.Fprintln(out, "Type help for commands, quit to exit")
		if len(args) == 1 {
			sh.run(ctx, "upload "+args[0])
		}

		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if sh.run(ctx, line) {
				break
			}
		}
		return nil
	},
}

func init() {
	shellCmd.Flags().BoolVar(&shellAsync, "async", false, "return to the prompt while views load and announce results as they arrive")
	rootCmd.AddCommand(shellCmd)
}

// shell dispatches one command line at a time against a session.
type shell struct {
	sess    *session.Session
	present *presenter
	out     io.Writer
	// async leaves fetches running in the background instead of waiting
	async atomic.Bool
}

func newShell(sess *session.Session, pr *presenter, out io.Writer) *shell {
	return &shell{sess: sess, present: pr, out: out}
}

// run executes line, printing any error, and reports whether to quit.
func (sh *shell) run(ctx context.Context, line string) bool {
	quit, err := sh.exec(ctx, line)
	if err != nil {
		fmt.Fprintln(sh.out, "✗ Error:", err)
	}
	return quit
}

func (sh *shell) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "quit", "exit", ".quit":
		return true, nil
	case "help", "?":
		printShellHelp(sh.out)
	case "upload":
		if len(args) != 1 {
			return false, errors.New("usage: upload <file.xlsx>")
		}
		return false, sh.upload(ctx, args[0])
	case "tab", "open":
		v, err := viewArg(args)
		if err != nil {
			return false, err
		}
		sh.sess.Activate(v)
		sh.settle(v)
	case "run", "refresh":
		v, err := viewArg(args)
		if err != nil {
			return false, err
		}
		sh.sess.Run(v)
		sh.settle(v)
	case "show":
		v := sh.sess.Active()
		if len(args) > 0 {
			var err error
			if v, err = session.ParseView(args[0]); err != nil {
				return false, err
			}
		}
		sh.show(v)
	case "select", "set":
		return false, sh.selectVar(args)
	case "model":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: model <%s>", modelNames())
		}
		if err := sh.sess.SelectModel(args[0]); err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "✓ Model: %s\n", sh.sess.Selection().Model.Label())
		sh.settle(session.ViewPrediction)
	case "download":
		att, err := sh.sess.Download(ctx)
		if err != nil {
			return false, err
		}
		_, err = saveAttachment(sh.out, sh.present.dir, att)
		return false, err
	case "status":
		writeStatus(sh.out, sh.sess)
	case "vars", "variables":
		fmt.Fprintf(sh.out, "numeric:     %s\n", strings.Join(session.NumericVariables, ", "))
		fmt.Fprintf(sh.out, "categorical: %s\n", strings.Join(session.CategoricalVariables, ", "))
		fmt.Fprintf(sh.out, "models:      %s\n", modelNames())
	case "wait":
		sh.sess.Wait()
		sh.show(sh.sess.Active())
	case "async":
		switch strings.ToLower(strings.Join(args, "")) {
		case "on", "true", "1":
			sh.async.Store(true)
		case "off", "false", "0":
			sh.async.Store(false)
		case "":
		default:
			return false, errors.New("usage: async [on|off]")
		}
		fmt.Fprintf(sh.out, "async: %t\n", sh.async.Load())
	default:
		return false, fmt.Errorf("unknown command: %s (type help for commands)", cmd)
	}
	return false, nil
}

func (sh *shell) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	msg, err := sh.sess.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, "✓", msg)
	sh.settle(sh.sess.Active())
	return nil
}

func (sh *shell) selectVar(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: select <categorical|outlier|distribution|correlation|rows> <value...>")
	}
	what, val := strings.ToLower(args[0]), args[1]
	var (
		v   session.View
		err error
	)
	switch what {
	case "categorical", "cat":
		v, err = session.ViewCategorical, sh.sess.SelectCategorical(val)
	case "outlier", "outliers", "box":
		v, err = session.ViewOutliers, sh.sess.SelectOutlierVariable(val)
	case "distribution", "dist":
		v, err = session.ViewDistribution, sh.sess.SelectDistributionVariable(val)
	case "correlation", "corr":
		v, err = session.ViewCorrelation, sh.sess.SelectCorrelationVariables(splitList(args[1:]))
	case "rows", "preview":
		n, perr := strconv.Atoi(val)
		if perr != nil {
			return fmt.Errorf("invalid row count %q", val)
		}
		v, err = session.ViewPreview, sh.sess.SetPreviewRows(n)
	default:
		return fmt.Errorf("unknown selection %q", what)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "✓ %s: %s\n", v.Title(), selectionFor(v, sh.sess.Selection()))
	if v == sh.sess.Active() {
		sh.settle(v)
	}
	return nil
}

// settle waits for outstanding fetches and shows v, unless running async.
func (sh *shell) settle(v session.View) {
	if sh.async.Load() {
		if st := sh.sess.State(v); st.Status == session.Loading {
			fmt.Fprintf(sh.out, "… %s loading in background\n", v.Title())
			return
		}
	} else {
		sh.sess.Wait()
	}
	sh.show(v)
}

func (sh *shell) show(v session.View) {
	st := sh.sess.State(v)
	fmt.Fprintln(sh.out, styleHeader.Render("== "+v.Title()+" =="))
	if st.Status != session.Ready {
		fmt.Fprintln(sh.out, describe(st))
		return
	}
	if _, err := sh.present.present(st); err != nil {
		fmt.Fprintln(sh.out, "✗ Error:", err)
	}
}

// watch announces views that finish loading while async mode is on.
func (sh *shell) watch(ctx context.Context, w io.Writer) {
	ch := sh.sess.Subscribe()
	defer sh.sess.Unsubscribe(ch)
	last := make(map[session.View]session.Status, len(session.Views))
	for _, v := range session.Views {
		last[v] = sh.sess.State(v).Status
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
		}
		for _, v := range session.Views {
			st := sh.sess.State(v)
			if st.Status == last[v] {
				continue
			}
			last[v] = st.Status
			if !sh.async.Load() {
				continue
			}
			switch st.Status {
			case session.Ready:
				fmt.Fprintf(w, "• %s ready (show %s)\n", v.Title(), v)
			case session.Failed:
				fmt.Fprintf(w, "• %s\n", describe(st))
			}
		}
	}
}

func viewArg(args []string) (session.View, error) {
	if len(args) != 1 {
		names := make([]string, len(session.Views))
		for i, v := range session.Views {
			names[i] = v.String()
		}
		return 0, fmt.Errorf("expected one view: %s", strings.Join(names, ", "))
	}
	return session.ParseView(args[0])
}

// splitList accepts "a,b c" style lists.
func splitList(args []string) []string {
	var out []string
	for _, a := range args {
		for _, p := range strings.Split(a, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func modelNames() string {
	names := make([]string, len(service.ModelTypes))
	for i, m := range service.ModelTypes {
		names[i] = string(m)
	}
	return strings.Join(names, "|")
}

func shellCompleter() *readline.PrefixCompleter {
	views := make([]readline.PrefixCompleterInterface, len(session.Views))
	for i, v := range session.Views {
		views[i] = readline.PcItem(v.String())
	}
	vars := func(names []string) []readline.PrefixCompleterInterface {
		items := make([]readline.PrefixCompleterInterface, len(names))
		for i, n := range names {
			items[i] = readline.PcItem(n)
		}
		return items
	}
	models := make([]readline.PrefixCompleterInterface, len(service.ModelTypes))
	for i, m := range service.ModelTypes {
		models[i] = readline.PcItem(string(m))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("upload"),
		readline.PcItem("tab", views...),
		readline.PcItem("run", views...),
		readline.PcItem("show", views...),
		readline.PcItem("select",
			readline.PcItem("categorical", vars(session.CategoricalVariables)...),
			readline.PcItem("outlier", vars(session.NumericVariables)...),
			readline.PcItem("distribution", vars(session.NumericVariables)...),
			readline.PcItem("correlation", vars(session.NumericVariables)...),
			readline.PcItem("rows"),
		),
		readline.PcItem("model", models...),
		readline.PcItem("download"),
		readline.PcItem("status"),
		readline.PcItem("vars"),
		readline.PcItem("wait"),
		readline.PcItem("async", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

func printShellHelp(w io.Writer) {
	help := `
Commands:
  upload <file.xlsx>            Upload a diamonds workbook (resets every view)
  tab <view>                    Open a view; it loads if its inputs changed
  run <view>                    Fetch a view now (required for pca and kmeans)
  show [view]                   Print a view's table or write its charts
  select categorical <var>      Variable plotted against price
  select outlier <var>          Variable for the outlier box plot
  select distribution <var>     Variable for the distribution plot
  select correlation <v1,v2..>  At least two numeric variables
  select rows <n>               Preview row count
  model <name>                  Prediction model
  download                      Save the predictions workbook and summarize it
  status                        Dataset, gates and per-view state
  vars                          List variables and models
  wait                          Wait for background fetches
  async [on|off]                Return to the prompt while views load
  quit                          Exit

Views: preview, categorical, outliers, distribution, correlation, prediction, pca, kmeans
`
	_, _ = fmt.Fprintln(w, help)
}
