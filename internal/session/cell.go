package session

// Status is the lifecycle position of a view cell.
type Status int

const (
	Idle Status = iota
	Loading
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Cell holds the state of one view. seq identifies the request the cell is
// waiting on; any response carrying another seq is superseded.
type Cell[T any] struct {
	Status  Status
	Payload T
	Err     error
	Epoch   uint64
	Params  string
	seq     uint64
}

func (c *Cell[T]) reset(epoch uint64) {
	var zero T
	c.seq++
	c.Status = Idle
	c.Payload = zero
	c.Err = nil
	c.Epoch = epoch
	c.Params = ""
}

func (c *Cell[T]) begin(epoch uint64, params string) uint64 {
	var zero T
	c.seq++
	c.Status = Loading
	c.Payload = zero
	c.Err = nil
	c.Epoch = epoch
	c.Params = params
	return c.seq
}

func (c *Cell[T]) fail(epoch uint64, params string, err error) {
	var zero T
	c.seq++
	c.Status = Failed
	c.Payload = zero
	c.Err = err
	c.Epoch = epoch
	c.Params = params
}

// ViewState is a read-only snapshot of a cell.
type ViewState struct {
	View    View
	Status  Status
	Payload any
	Err     error
	Epoch   uint64
	Params  string
}

// PayloadAs returns the snapshot payload as T.
func PayloadAs[T any](st ViewState) (T, bool) {
	v, ok := st.Payload.(T)
	return v, ok
}
