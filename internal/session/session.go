// Package session drives the analysis service through the dashboard workflow.
//
// A Session tracks whether a dataset is loaded, bumps a dataset epoch on every
// successful upload, enforces the dataset and PCA-before-K-Means gates, and
// owns one cell per analysis view. Views fetch lazily while active; responses
// for superseded requests, older epochs or stale parameters are dropped.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/KaramelBytes/gemdash-cli/internal/dataset"
	"github.com/KaramelBytes/gemdash-cli/internal/payload"
	"github.com/KaramelBytes/gemdash-cli/internal/service"
)

// Service is the remote analysis service as seen by the session.
type Service interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*service.UploadResult, error)
	Preview(ctx context.Context, rows int) (payload.Records, error)
	Plot(ctx context.Context, kind service.PlotKind, params service.PlotParams) (*payload.Chart, error)
	Predict(ctx context.Context, model service.ModelType) (*service.Prediction, error)
	DownloadPredictions(ctx context.Context, model service.ModelType) (*service.Attachment, error)
	PCA(ctx context.Context) (*service.PCAResult, error)
	KMeans(ctx context.Context) (*service.KMeansResult, error)
}

// Options configures a Session. Zero values pick defaults.
type Options struct {
	Logger    *slog.Logger
	Selection *Selection
	Active    View
	// Precheck inspects an upload before it is sent. Defaults to the
	// workbook column check.
	Precheck func(filename string, data []byte) error
}

type Session struct {
	svc      Service
	logger   *slog.Logger
	precheck func(string, []byte) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	notify *notifier

	mu           sync.Mutex
	closed       bool
	hasDataset   bool
	pcaSucceeded bool
	epoch        uint64
	active       View
	sel          Selection
	upload       Cell[string]
	views        map[View]viewController
}

// New creates a session. No request is made until a view is activated or run.
func New(svc Service, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		svc:      svc,
		logger:   opts.Logger,
		precheck: opts.Precheck,
		ctx:      ctx,
		cancel:   cancel,
		notify:   newNotifier(),
		active:   opts.Active,
		sel:      DefaultSelection(),
		views:    newControllers(),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.precheck == nil {
		s.precheck = dataset.CheckUpload
	}
	if opts.Selection != nil {
		s.sel = opts.Selection.clone()
	}
	if s.sel.PreviewRows <= 0 {
		s.sel.PreviewRows = service.DefaultPreviewRows
	}
	return s
}

// Close cancels in-flight fetches and waits for them to return.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every fetch issued so far has been applied or dropped.
func (s *Session) Wait() { s.wg.Wait() }

// Subscribe returns a channel pinged after every state change. Call
// Unsubscribe when done.
func (s *Session) Subscribe() chan struct{} { return s.notify.subscribe() }

// Unsubscribe stops and closes a channel returned by Subscribe.
func (s *Session) Unsubscribe(ch chan struct{}) { s.notify.unsubscribe(ch) }

// Upload sends a workbook to the service. On success the dataset epoch is
// bumped, the PCA gate closes and every view cell returns to Idle before the
// active view is evaluated again. Failures only touch the upload cell.
func (s *Session) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	s.mu.Lock()
	seq := s.upload.begin(s.epoch, filename)
	s.mu.Unlock()
	s.notify.broadcast()

	res, err := s.sendUpload(ctx, filename, r)

	s.mu.Lock()
	if err != nil {
		if s.upload.seq == seq {
			s.upload.fail(s.epoch, filename, err)
		}
		s.mu.Unlock()
		s.logger.Debug("upload failed", "file", filename, "err", err)
		s.notify.broadcast()
		return "", err
	}
	// the service now holds this dataset even if a newer upload is pending
	s.hasDataset = true
	s.pcaSucceeded = false
	s.epoch++
	for _, v := range Views {
		s.views[v].reset(s.epoch)
	}
	if s.upload.seq == seq {
		s.upload.Status = Ready
		s.upload.Payload = res.Message
		s.upload.Epoch = s.epoch
	}
	s.logger.Debug("dataset loaded", "file", filename, "epoch", s.epoch)
	s.evaluate(s.active, false)
	s.mu.Unlock()
	s.notify.broadcast()
	return res.Message, nil
}

func (s *Session) sendUpload(ctx context.Context, filename string, r io.Reader) (*service.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := s.precheck(filename, data); err != nil {
		var ue *service.UploadError
		if errors.As(err, &ue) {
			return nil, err
		}
		return nil, &service.UploadError{Local: true, Message: err.Error()}
	}
	return s.svc.Upload(ctx, filename, bytes.NewReader(data))
}

// UploadState returns the state of the upload action.
func (s *Session) UploadState() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := ViewState{Status: s.upload.Status, Err: s.upload.Err, Epoch: s.upload.Epoch, Params: s.upload.Params}
	if s.upload.Status == Ready {
		st.Payload = s.upload.Payload
	}
	return st
}

// Activate makes v the active view and fetches it if its inputs changed.
func (s *Session) Activate(v View) {
	s.mu.Lock()
	if _, ok := s.views[v]; !ok {
		s.mu.Unlock()
		return
	}
	s.active = v
	s.evaluate(v, false)
	s.mu.Unlock()
	s.notify.broadcast()
}

// Active returns the active view.
func (s *Session) Active() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Run issues a fetch for v now, whatever its trigger mode or active state.
// PCA and K-Means only fetch this way.
func (s *Session) Run(v View) {
	s.mu.Lock()
	if _, ok := s.views[v]; !ok {
		s.mu.Unlock()
		return
	}
	s.evaluate(v, true)
	s.mu.Unlock()
	s.notify.broadcast()
}

// SelectCategorical sets the categorical variable plotted against price.
func (s *Session) SelectCategorical(v string) error {
	return s.selectFor(ViewCategorical, func(sel *Selection) { sel.Categorical = strings.TrimSpace(v) })
}

// SelectOutlierVariable sets the numeric variable of the box plot.
func (s *Session) SelectOutlierVariable(v string) error {
	return s.selectFor(ViewOutliers, func(sel *Selection) { sel.Outlier = strings.TrimSpace(v) })
}

// SelectDistributionVariable sets the numeric variable of the histogram.
func (s *Session) SelectDistributionVariable(v string) error {
	return s.selectFor(ViewDistribution, func(sel *Selection) { sel.Distribution = strings.TrimSpace(v) })
}

// SelectCorrelationVariables sets the correlation variables. Fewer than two
// leaves the view failing locally without contacting the service.
func (s *Session) SelectCorrelationVariables(vars []string) error {
	return s.selectFor(ViewCorrelation, func(sel *Selection) { sel.Correlation = dedupe(vars) })
}

// SetPreviewRows sets the preview row limit; n <= 0 selects the default.
func (s *Session) SetPreviewRows(n int) error {
	if n <= 0 {
		n = service.DefaultPreviewRows
	}
	return s.selectFor(ViewPreview, func(sel *Selection) { sel.PreviewRows = n })
}

// SelectModel switches the prediction model. The previous prediction is
// cleared at once and refetched only if the prediction view is active.
func (s *Session) SelectModel(name string) error {
	m, err := service.ParseModelType(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.sel.Model != m {
		s.sel.Model = m
		s.views[ViewPrediction].reset(s.epoch)
	}
	s.evaluate(ViewPrediction, false)
	s.mu.Unlock()
	s.notify.broadcast()
	return nil
}

func (s *Session) selectFor(v View, apply func(*Selection)) error {
	s.mu.Lock()
	apply(&s.sel)
	_, err := paramsKey(v, &s.sel)
	s.evaluate(v, false)
	s.mu.Unlock()
	s.notify.broadcast()
	return err
}

// Selection returns a copy of the current selections.
func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.clone()
}

// Download fetches the prediction workbook for the selected model. It needs
// only a loaded dataset and never touches the prediction cell.
func (s *Session) Download(ctx context.Context) (*service.Attachment, error) {
	s.mu.Lock()
	if perr := firstUnmet(s, []Gate{gateDataset}); perr != nil {
		s.mu.Unlock()
		return nil, perr
	}
	model, epoch := s.sel.Model, s.epoch
	s.mu.Unlock()

	att, err := s.svc.DownloadPredictions(ctx, model)
	if err != nil && service.IsNoDataset(err) {
		s.mu.Lock()
		if s.epoch == epoch {
			s.hasDataset = false
			s.pcaSucceeded = false
		}
		s.mu.Unlock()
		s.notify.broadcast()
	}
	return att, err
}

// State returns a snapshot of v's cell. Cells tagged with an older epoch read
// as Idle with no payload.
func (s *Session) State(v View) ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.views[v]
	if !ok {
		return ViewState{View: v}
	}
	st := c.state()
	if st.Epoch != s.epoch {
		return ViewState{View: v, Epoch: s.epoch}
	}
	return st
}

// HasDataset reports whether the service is known to hold a dataset.
func (s *Session) HasDataset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasDataset
}

// Epoch returns the dataset epoch; it increases once per successful upload.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// PCASucceeded reports whether the latest PCA run succeeded.
func (s *Session) PCASucceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pcaSucceeded
}

// KMeansAllowed reports whether the K-Means gate chain is open.
func (s *Session) KMeansAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasDataset && s.pcaSucceeded
}

// TabEnabled reports whether v can be used: every view needs a dataset and
// K-Means also needs a successful PCA.
func (s *Session) TabEnabled(v View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.views[v]
	if !ok {
		return false
	}
	return firstUnmet(s, c.gates()) == nil
}

// shouldFetch is the lazy trigger: the view is active, fetches on
// activation, and its cell is not already holding or loading key.
func (s *Session) shouldFetch(c viewController, key string) bool {
	if c.trigger() != OnActivate || c.view() != s.active {
		return false
	}
	switch c.status() {
	case Idle, Failed:
		return true
	}
	return c.params() != key
}

// evaluate checks v and issues a fetch when due. Caller holds s.mu.
func (s *Session) evaluate(v View, explicit bool) {
	if s.closed {
		return
	}
	c := s.views[v]
	key, verr := paramsKey(v, &s.sel)
	if !explicit && !s.shouldFetch(c, key) {
		return
	}
	if verr != nil {
		c.fail(s.epoch, key, verr)
		s.logger.Debug("view rejected selection", "view", v, "err", verr)
		return
	}
	if v == ViewPCA {
		// a new PCA attempt invalidates any K-Means result built on the old one
		s.pcaSucceeded = false
		s.views[ViewKMeans].reset(s.epoch)
	}
	if perr := firstUnmet(s, c.gates()); perr != nil {
		c.fail(s.epoch, key, perr)
		s.logger.Debug("view gated", "view", v, "gate", perr.Gate)
		return
	}
	epoch := s.epoch
	seq := c.begin(epoch, key)
	sel := s.sel.clone()
	s.logger.Debug("fetch issued", "view", v, "epoch", epoch, "seq", seq, "params", key)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := c.fetchAny(s.ctx, s.svc, sel)
		s.complete(c, seq, epoch, key, res, err)
	}()
}

// complete applies a fetch result unless it has been superseded.
func (s *Session) complete(c viewController, seq, epoch uint64, key string, res any, err error) {
	s.mu.Lock()
	applied := s.apply(c, seq, epoch, key, res, err)
	s.mu.Unlock()
	if applied {
		s.notify.broadcast()
	}
}

func (s *Session) apply(c viewController, seq, epoch uint64, key string, res any, err error) bool {
	v := c.view()
	if s.closed {
		return false
	}
	if c.seq() != seq || s.epoch != epoch {
		s.logger.Debug("dropped stale response", "view", v, "epoch", epoch, "seq", seq)
		return false
	}
	if cur, _ := paramsKey(v, &s.sel); cur != key {
		// selection moved on while the view was inactive; refetch on next activation
		c.reset(s.epoch)
		s.logger.Debug("dropped response for old parameters", "view", v, "params", key, "want", cur)
		return true
	}
	if err != nil {
		if service.IsNoDataset(err) {
			s.hasDataset = false
			s.pcaSucceeded = false
		}
		if v == ViewKMeans && service.IsPCANotRun(err) {
			s.pcaSucceeded = false
		}
		c.fail(epoch, key, err)
		s.logger.Debug("fetch failed", "view", v, "epoch", epoch, "seq", seq, "err", err)
		return true
	}
	c.succeed(res)
	if v == ViewPCA {
		s.pcaSucceeded = true
	}
	s.logger.Debug("fetch ready", "view", v, "epoch", epoch, "seq", seq)
	return true
}
