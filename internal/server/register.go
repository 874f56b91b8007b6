package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"compute-grid/pkg/model"
)

// RegisterNode announces this slave to a master registry over HTTP.
func RegisterNode(masterURL, path string, node model.Node, timeout time.Duration) error {
	payload, err := json.Marshal(node)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s%s", masterURL, path))
	req.Header.SetMethod(http.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return errors.Wrap(err, "register node")
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("request failed: %d %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}
