package master

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"compute-grid/internal/logger"
	"compute-grid/internal/utils"
	"compute-grid/pkg/model"
)

const (
	NODE_REGISTER_SLAVE_PATH = "/node/register/slave"
	NODE_LIST_PATH           = "/node/list"
	JOB_STATUS_PATH          = "/job"
	HEALTH_PATH              = "/health"

	V1 = "/api/v1"
)

var (
	errNotFound         = errors.New("not found")
	errMethodNotAllowed = errors.New("method not allowed")
	errBadRequest       = errors.New("bad request")
)

// JobStatus is served on JOB_STATUS_PATH.
type JobStatus struct {
	Status  string   `json:"Status"`
	Summary *Summary `json:"Summary,omitempty"`
}

// API is the master's HTTP side: slave registration, the slave list and job progress.
type API struct {
	HttpServer *fasthttp.Server
	registry   *Registry
	manager    *Manager
	aggregator *Aggregator
	log        *zap.Logger
	ln         net.Listener
}

// NewAPI serves reg; mgr and agg may be nil when no job is attached.
func NewAPI(reg *Registry, mgr *Manager, agg *Aggregator, log *zap.Logger) *API {
	a := &API{
		HttpServer: &fasthttp.Server{Name: "compute-grid-master"},
		registry:   reg,
		manager:    mgr,
		aggregator: agg,
		log:        logger.OrNop(log).Named("api"),
	}
	a.HttpServer.Handler = a.Router
	return a
}

func (a *API) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.ln = ln
	go func() {
		if err := a.HttpServer.Serve(ln); err != nil {
			a.log.Error("[SERVER][ERROR] registry API stopped", zap.Error(err))
		}
	}()
	a.log.Info("[SERVER] registry API started", zap.String("addr", ln.Addr().String()))
	return nil
}

func (a *API) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

func (a *API) Stop() error {
	return a.HttpServer.Shutdown()
}

func (a *API) Router(ctx *fasthttp.RequestCtx) {
	defer utils.Recovery(a.log, "ROUTER")

	path := string(ctx.Path())
	if !utf8.ValidString(path) {
		return
	}

	if !strings.HasPrefix(path, V1) {
		setStatusCode(ctx, errNotFound)
		return
	}
	a.Handler(strings.TrimPrefix(path, V1), ctx)
}

func (a *API) Handler(path string, ctx *fasthttp.RequestCtx) {
	defer utils.Recovery(a.log, "SERVER")

	method := string(ctx.Method())

	var err error
	var resp []byte
	switch path {
	case NODE_REGISTER_SLAVE_PATH:
		err = a.registerSlave(method, ctx.PostBody())
	case NODE_LIST_PATH:
		resp, err = a.nodeList(method)
	case JOB_STATUS_PATH:
		resp, err = a.jobStatus(method)
	case HEALTH_PATH:
		if method != http.MethodGet && method != http.MethodHead {
			err = errMethodNotAllowed
		}
	default:
		err = errNotFound
	}

	if err != nil {
		resp = []byte(err.Error())
	} else if resp != nil {
		ctx.SetContentType("application/json")
	}
	setStatusCode(ctx, err)
	if resp != nil {
		ctx.Response.SetBody(resp)
	}
}

func (a *API) registerSlave(method string, body []byte) error {
	if method != http.MethodPost {
		return errMethodNotAllowed
	}
	var node model.Node
	if err := json.Unmarshal(body, &node); err != nil {
		a.log.Warn("[API] bad registration", zap.Error(err))
		return errBadRequest
	}
	if node.Endpoint.Address == "" || node.Endpoint.Port <= 0 || node.Endpoint.Transport == model.TRANSPORT_UDP {
		return errBadRequest
	}
	a.registry.Register(node, SOURCE_HTTP)
	return nil
}

func (a *API) nodeList(method string) ([]byte, error) {
	if method != http.MethodGet {
		return nil, errMethodNotAllowed
	}
	return json.Marshal(a.registry.Nodes())
}

func (a *API) jobStatus(method string) ([]byte, error) {
	if method != http.MethodGet {
		return nil, errMethodNotAllowed
	}
	if a.manager == nil {
		return nil, errNotFound
	}
	st := JobStatus{Status: a.manager.GetStatus()}
	if a.aggregator != nil {
		s := a.aggregator.Summary()
		st.Summary = &s
	}
	return json.Marshal(st)
}

func setStatusCode(ctx *fasthttp.RequestCtx, err error) {
	switch err {
	case nil:
		ctx.SetStatusCode(fasthttp.StatusOK)
	case errNotFound:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	case errMethodNotAllowed:
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	case errBadRequest:
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
	default:
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}
