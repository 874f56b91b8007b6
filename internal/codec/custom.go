package codec

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"compute-grid/pkg/model"
)

// Custom is the CUSTOM codec. It knows the wire types only and lays them out by hand,
// big-endian:
//
//	string            u32 len, bytes
//	Command           u8
//	EndpointInfo      string address, u32 port, u8 transport
//	NetworkTask       string model, f64 deadline, u32 nparams, (string key, f64 value)*
//	                  in key order, u32 ntasks, (i64 id, i64 seed)*
//	ComputationResult u32 ntrajectories, trajectory*
//	trajectory        i64 task id, u32 nsamples, f64 start, f64 end, u8 successful,
//	                  i64 generation time, string error, sample*
//	sample            f64 time, u16 dim, f64*dim
type Custom struct{}

func (Custom) Type() Type { return CUSTOM }

func (Custom) Marshal(v any) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	w := writer{buf: buf}
	switch v := v.(type) {
	case string:
		w.string(v)
	case *string:
		w.string(*v)
	case model.Command:
		w.u8(uint8(v))
	case *model.Command:
		w.u8(uint8(*v))
	case model.EndpointInfo:
		w.endpoint(&v)
	case *model.EndpointInfo:
		w.endpoint(v)
	case model.NetworkTask:
		w.task(&v)
	case *model.NetworkTask:
		w.task(v)
	case model.ComputationResult:
		if err := w.result(&v); err != nil {
			return nil, err
		}
	case *model.ComputationResult:
		if err := w.result(v); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "%T", v)
	}
	return append([]byte(nil), buf.B...), nil
}

func (Custom) Unmarshal(b []byte, v any) error {
	r := reader{b: b}
	switch v := v.(type) {
	case *string:
		*v = r.string()
	case *model.Command:
		*v = model.Command(r.u8())
	case *model.EndpointInfo:
		*v = r.endpoint()
	case *model.NetworkTask:
		*v = r.task()
	case *model.ComputationResult:
		*v = r.result()
	default:
		return errors.Wrapf(ErrUnsupportedType, "%T", v)
	}
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return errors.Wrapf(ErrCorrupt, "%d trailing bytes", len(r.b)-r.off)
	}
	return nil
}

type writer struct {
	buf *bytebufferpool.ByteBuffer
}

func (w writer) u8(v uint8) { w.buf.B = append(w.buf.B, v) }

func (w writer) u16(v uint16) { w.buf.B = binary.BigEndian.AppendUint16(w.buf.B, v) }

func (w writer) u32(v uint32) { w.buf.B = binary.BigEndian.AppendUint32(w.buf.B, v) }

func (w writer) u64(v uint64) { w.buf.B = binary.BigEndian.AppendUint64(w.buf.B, v) }

func (w writer) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w writer) string(s string) {
	w.u32(uint32(len(s)))
	w.buf.B = append(w.buf.B, s...)
}

func (w writer) endpoint(e *model.EndpointInfo) {
	w.string(e.Address)
	w.u32(uint32(e.Port))
	w.u8(uint8(e.Transport))
}

func (w writer) task(t *model.NetworkTask) {
	w.string(t.Unit.Model)
	w.f64(t.Unit.Deadline)

	keys := make([]string, 0, len(t.Unit.Params))
	for k := range t.Unit.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.u32(uint32(len(keys)))
	for _, k := range keys {
		w.string(k)
		w.f64(t.Unit.Params[k])
	}

	w.u32(uint32(len(t.Tasks)))
	for _, d := range t.Tasks {
		w.u64(uint64(d.ID))
		w.u64(uint64(d.Seed))
	}
}

func (w writer) result(r *model.ComputationResult) error {
	w.u32(uint32(len(r.Trajectories)))
	for i := range r.Trajectories {
		tr := &r.Trajectories[i]
		w.u64(uint64(tr.TaskID))
		w.u32(uint32(len(tr.Samples)))
		w.f64(tr.Start)
		w.f64(tr.End)
		if tr.Successful {
			w.u8(1)
		} else {
			w.u8(0)
		}
		w.u64(uint64(tr.GenerationTime))
		w.string(tr.Error)
		for _, s := range tr.Samples {
			if len(s.State) > math.MaxUint16 {
				return errors.Errorf("sample of task %d has %d state variables", tr.TaskID, len(s.State))
			}
			w.f64(s.Time)
			w.u16(uint16(len(s.State)))
			for _, x := range s.State {
				w.f64(x)
			}
		}
	}
	return nil
}

// reader keeps the first error and returns zero values after it.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b)-r.off < n {
		r.err = errors.Wrapf(ErrCorrupt, "need %d bytes at offset %d, have %d", n, r.off, len(r.b)-r.off)
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

// count reads a u32 element count and checks it against the bytes left, each element
// taking at least minSize bytes.
func (r *reader) count(minSize int) int {
	n := int(r.u32())
	if r.err == nil && n*minSize > len(r.b)-r.off {
		r.err = errors.Wrapf(ErrCorrupt, "count %d exceeds payload", n)
		return 0
	}
	return n
}

func (r *reader) u8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *reader) u16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint16(p)
}

func (r *reader) u32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

func (r *reader) u64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint64(p)
}

func (r *reader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *reader) string() string {
	n := r.count(1)
	return string(r.take(n))
}

func (r *reader) endpoint() model.EndpointInfo {
	var e model.EndpointInfo
	e.Address = r.string()
	e.Port = int(r.u32())
	e.Transport = model.TransportType(r.u8())
	return e
}

func (r *reader) task() model.NetworkTask {
	var t model.NetworkTask
	t.Unit.Model = r.string()
	t.Unit.Deadline = r.f64()

	if n := r.count(12); n > 0 {
		t.Unit.Params = make(map[string]float64, n)
		for i := 0; i < n && r.err == nil; i++ {
			k := r.string()
			t.Unit.Params[k] = r.f64()
		}
	}

	if n := r.count(16); n > 0 {
		t.Tasks = make([]model.TaskDescriptor, n)
		for i := 0; i < n && r.err == nil; i++ {
			t.Tasks[i].ID = int64(r.u64())
			t.Tasks[i].Seed = int64(r.u64())
		}
	}
	return t
}

func (r *reader) result() model.ComputationResult {
	var res model.ComputationResult
	n := r.count(41)
	if n == 0 {
		return res
	}
	res.Trajectories = make([]model.Trajectory, n)
	for i := 0; i < n && r.err == nil; i++ {
		tr := &res.Trajectories[i]
		tr.TaskID = int64(r.u64())
		samples := int(r.u32())
		tr.Start = r.f64()
		tr.End = r.f64()
		tr.Successful = r.u8() == 1
		tr.GenerationTime = int64(r.u64())
		tr.Error = r.string()
		if r.err == nil && samples*10 > len(r.b)-r.off {
			r.err = errors.Wrapf(ErrCorrupt, "sample count %d exceeds payload", samples)
		}
		if r.err != nil || samples == 0 {
			continue
		}
		tr.Samples = make([]model.Sample, samples)
		for j := 0; j < samples && r.err == nil; j++ {
			s := &tr.Samples[j]
			s.Time = r.f64()
			dim := int(r.u16())
			if dim*8 > len(r.b)-r.off {
				r.err = errors.Wrapf(ErrCorrupt, "sample dimension %d exceeds payload", dim)
				break
			}
			s.State = make([]float64, dim)
			for k := range s.State {
				s.State[k] = r.f64()
			}
		}
	}
	return res
}
