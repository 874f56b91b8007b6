package server

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fasthttp"

	"compute-grid/internal/utils"
)

const (
	CHECK_STATUS_PATH = "/checkStatus"
	SESSIONS_PATH     = "/sessions"
	MODELS_PATH       = "/models"
	HEALTH_PATH       = "/health"

	V1 = "/api/v1"
)

var (
	errNotFound         = errors.New("not found")
	errMethodNotAllowed = errors.New("method not allowed")
)

func (a *StatusAPI) Router(ctx *fasthttp.RequestCtx) {
	defer utils.Recovery(a.log, "ROUTER")

	path := string(ctx.Path())
	if !utf8.ValidString(path) {
		return
	}

	switch {
	case strings.HasPrefix(path, V1):
		a.Handler(strings.TrimPrefix(path, V1), ctx)
	default:
		setStatusCode(ctx, errNotFound)
	}
}

func (a *StatusAPI) Handler(path string, ctx *fasthttp.RequestCtx) {
	defer utils.Recovery(a.log, "SERVER")

	method := string(ctx.Method())

	var err error
	var resp []byte
	switch path {
	case CHECK_STATUS_PATH:
		resp, err = a.checkStatus(method)
	case SESSIONS_PATH:
		resp, err = a.sessions(method)
	case MODELS_PATH:
		resp, err = a.models(method)
	case HEALTH_PATH:
		err = a.health(method)
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

func setStatusCode(ctx *fasthttp.RequestCtx, err error) {
	if err != nil {
		switch err {
		case errNotFound:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		case errMethodNotAllowed:
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		default:
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		}
	} else {
		ctx.SetStatusCode(fasthttp.StatusOK)
	}
}
