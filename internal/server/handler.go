package server

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"compute-grid/internal/logger"
)

// StatusAPI is the slave's HTTP side: status and health for operators and the master.
type StatusAPI struct {
	HttpServer *fasthttp.Server
	grid       *Server
	log        *zap.Logger
	ln         net.Listener
}

func NewStatusAPI(grid *Server, log *zap.Logger) *StatusAPI {
	a := &StatusAPI{
		HttpServer: &fasthttp.Server{Name: "compute-grid-slave"},
		grid:       grid,
		log:        logger.OrNop(log).Named("status"),
	}
	a.HttpServer.Handler = a.Router
	return a
}

// Start serves on addr (":8081", "127.0.0.1:0", ...) in the background.
func (a *StatusAPI) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.ln = ln
	go func() {
		if err := a.HttpServer.Serve(ln); err != nil {
			a.log.Error("[SERVER][ERROR] status API stopped", zap.Error(err))
		}
	}()
	a.log.Info("[SERVER] status API started", zap.String("addr", ln.Addr().String()))
	return nil
}

func (a *StatusAPI) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

func (a *StatusAPI) Stop() error {
	if err := a.HttpServer.Shutdown(); err != nil {
		return err
	}
	a.log.Info("[SERVER][STOP] status API stopped")
	return nil
}

func (a *StatusAPI) checkStatus(method string) ([]byte, error) {
	if method != http.MethodGet {
		return nil, errMethodNotAllowed
	}
	return json.Marshal(a.grid.Status())
}

func (a *StatusAPI) sessions(method string) ([]byte, error) {
	if method != http.MethodGet {
		return nil, errMethodNotAllowed
	}
	return json.Marshal(a.grid.Sessions())
}

func (a *StatusAPI) models(method string) ([]byte, error) {
	if method != http.MethodGet {
		return nil, errMethodNotAllowed
	}
	return json.Marshal(a.grid.registry.Names())
}

func (a *StatusAPI) health(method string) error {
	if method != http.MethodGet && method != http.MethodHead {
		return errMethodNotAllowed
	}
	return nil
}
