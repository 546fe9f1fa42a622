package session

import (
	"context"

	"github.com/KaramelBytes/gemdash-cli/internal/payload"
	"github.com/KaramelBytes/gemdash-cli/internal/service"
)

// viewController is the type-erased face of a controller. All methods are
// called with the session mutex held, except fetchAny.
type viewController interface {
	view() View
	trigger() Trigger
	gates() []Gate
	state() ViewState
	status() Status
	params() string
	seq() uint64
	reset(epoch uint64)
	begin(epoch uint64, params string) uint64
	fail(epoch uint64, params string, err error)
	succeed(res any)
	fetchAny(ctx context.Context, svc Service, sel Selection) (any, error)
}

// controller owns one view cell and knows how to fill it.
type controller[T any] struct {
	v     View
	trig  Trigger
	chain []Gate
	fetch func(ctx context.Context, svc Service, sel Selection) (T, error)
	cell  Cell[T]
}

func (c *controller[T]) view() View       { return c.v }
func (c *controller[T]) trigger() Trigger { return c.trig }
func (c *controller[T]) gates() []Gate    { return c.chain }
func (c *controller[T]) status() Status   { return c.cell.Status }
func (c *controller[T]) params() string   { return c.cell.Params }
func (c *controller[T]) seq() uint64      { return c.cell.seq }

func (c *controller[T]) state() ViewState {
	st := ViewState{
		View:   c.v,
		Status: c.cell.Status,
		Err:    c.cell.Err,
		Epoch:  c.cell.Epoch,
		Params: c.cell.Params,
	}
	if c.cell.Status == Ready {
		st.Payload = c.cell.Payload
	}
	return st
}

func (c *controller[T]) reset(epoch uint64) { c.cell.reset(epoch) }

func (c *controller[T]) begin(epoch uint64, params string) uint64 {
	return c.cell.begin(epoch, params)
}

func (c *controller[T]) fail(epoch uint64, params string, err error) {
	c.cell.fail(epoch, params, err)
}

func (c *controller[T]) succeed(res any) {
	c.cell.Status = Ready
	c.cell.Payload, _ = res.(T)
	c.cell.Err = nil
}

func (c *controller[T]) fetchAny(ctx context.Context, svc Service, sel Selection) (any, error) {
	return c.fetch(ctx, svc, sel)
}

func plotController(v View, kind service.PlotKind, variable func(Selection) service.PlotParams) *controller[*payload.Chart] {
	return &controller[*payload.Chart]{
		v:     v,
		trig:  OnActivate,
		chain: []Gate{gateDataset},
		fetch: func(ctx context.Context, svc Service, sel Selection) (*payload.Chart, error) {
			return svc.Plot(ctx, kind, variable(sel))
		},
	}
}

// newControllers builds one controller per view.
func newControllers() map[View]viewController {
	return map[View]viewController{
		ViewPreview: &controller[payload.Records]{
			v:     ViewPreview,
			trig:  OnActivate,
			chain: []Gate{gateDataset},
			fetch: func(ctx context.Context, svc Service, sel Selection) (payload.Records, error) {
				return svc.Preview(ctx, sel.PreviewRows)
			},
		},
		ViewCategorical: plotController(ViewCategorical, service.PlotScatter, func(sel Selection) service.PlotParams {
			return service.PlotParams{Variable: sel.Categorical}
		}),
		ViewOutliers: plotController(ViewOutliers, service.PlotBoxplot, func(sel Selection) service.PlotParams {
			return service.PlotParams{Variable: sel.Outlier}
		}),
		ViewDistribution: plotController(ViewDistribution, service.PlotDistribution, func(sel Selection) service.PlotParams {
			return service.PlotParams{Variable: sel.Distribution}
		}),
		ViewCorrelation: plotController(ViewCorrelation, service.PlotCorrelation, func(sel Selection) service.PlotParams {
			return service.PlotParams{Variables: sel.Correlation}
		}),
		ViewPrediction: &controller[*service.Prediction]{
			v:     ViewPrediction,
			trig:  OnActivate,
			chain: []Gate{gateDataset},
			fetch: func(ctx context.Context, svc Service, sel Selection) (*service.Prediction, error) {
				return svc.Predict(ctx, sel.Model)
			},
		},
		ViewPCA: &controller[*service.PCAResult]{
			v:     ViewPCA,
			trig:  Manual,
			chain: []Gate{gateDataset},
			fetch: func(ctx context.Context, svc Service, _ Selection) (*service.PCAResult, error) {
				return svc.PCA(ctx)
			},
		},
		ViewKMeans: &controller[*service.KMeansResult]{
			v:     ViewKMeans,
			trig:  Manual,
			chain: []Gate{gateDataset, gatePCA},
			fetch: func(ctx context.Context, svc Service, _ Selection) (*service.KMeansResult, error) {
				return svc.KMeans(ctx)
			},
		},
	}
}
