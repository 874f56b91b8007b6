package server

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"compute-grid/internal/executor"
	"compute-grid/pkg/model"
)

func call(api *StatusAPI, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI(path)
	ctx.Request.Header.SetMethod(method)
	api.Router(&ctx)
	return &ctx
}

func TestStatusRoutes(t *testing.T) {
	h := startServer(t, executor.STREAMING, mustPipeline(t, "DEFAULT", "none"))
	require.NoError(t, h.reg.Provision("walk", []byte(walkModel)))
	api := NewStatusAPI(h.srv, nil)

	ctx := call(api, http.MethodGet, V1+CHECK_STATUS_PATH)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var st model.SlaveStatus
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &st))
	assert.Equal(t, "STREAMING", st.Executor)
	assert.Equal(t, []string{"walk"}, st.Models)

	ctx = call(api, http.MethodGet, V1+MODELS_PATH)
	assert.JSONEq(t, `["walk"]`, string(ctx.Response.Body()))

	ctx = call(api, http.MethodGet, V1+SESSIONS_PATH)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	assert.Equal(t, fasthttp.StatusOK, call(api, http.MethodGet, V1+HEALTH_PATH).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, call(api, http.MethodPost, V1+CHECK_STATUS_PATH).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, call(api, http.MethodGet, V1+"/nope").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, call(api, http.MethodGet, "/checkStatus").Response.StatusCode())
}

func TestStatusAPIServes(t *testing.T) {
	h := startServer(t, executor.SEQUENTIAL, mustPipeline(t, "DEFAULT", "none"))
	api := NewStatusAPI(h.srv, nil)
	require.NoError(t, api.Start("127.0.0.1:0"))
	defer api.Stop()

	status, body, err := fasthttp.GetTimeout(nil, "http://"+api.Addr()+V1+HEALTH_PATH, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Empty(t, body)
}

func TestRegisterNode(t *testing.T) {
	got := make(chan model.Node, 1)
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/api/v1/node/register/slave" || !ctx.IsPost() {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		var n model.Node
		if err := json.Unmarshal(ctx.PostBody(), &n); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		got <- n
	}}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	defer srv.Shutdown()

	node := model.Node{UUID: "n1", Endpoint: model.NewEndpointInfo("10.0.0.5", 10000, model.TRANSPORT_DEFAULT), StatusAddr: ":8081"}
	require.NoError(t, RegisterNode("http://"+ln.Addr().String(), "/api/v1/node/register/slave", node, 2*time.Second))
	assert.Equal(t, node, <-got)

	assert.Error(t, RegisterNode("http://"+ln.Addr().String(), "/wrong", node, 2*time.Second))
}
