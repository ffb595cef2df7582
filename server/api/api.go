// Package api serves the node status and pprof over HTTP.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	l4g "github.com/alecthomas/log4go"
)

// WebAPI http api
type WebAPI struct {
	status func() interface{}
	srv    *http.Server
	ln     net.Listener
}

// NewWebAPI serves status on addr until Close.
func NewWebAPI(addr string, status func() interface{}) (*WebAPI, error) {
	h := &WebAPI{status: status}
	ln, err := net.Listen("tcp", addr)
	if nil != err {
		return nil, errors.Wrapf(err, "web api listen %s", addr)
	}
	h.ln = ln
	h.srv = &http.Server{Handler: h.Router(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		l4g.Info("[api] listen on %s", ln.Addr())
		if err := h.srv.Serve(ln); nil != err && http.ErrServerClosed != err {
			l4g.Error("[api] %v", err)
		}
	}()
	return h, nil
}

// Router builds the routes: GET /status and /debug/pprof/.
func (h *WebAPI) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	return r
}

func (h *WebAPI) Addr() net.Addr {
	return h.ln.Addr()
}

func (h *WebAPI) Close() error {
	return h.srv.Close()
}

func (h *WebAPI) getStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.status()); nil != err {
		l4g.Warn("[api] status: %v", err)
	}
}
