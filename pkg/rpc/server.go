package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/gsc-network/gscnode/pkg/network"
	syncmgr "github.com/gsc-network/gscnode/pkg/network/sync"
)

// Server exposes the node's status/control surface over HTTP for
// tooling and the CLI. It is optional; the embedding API on Node and
// Manager is the primary surface.
type Server struct {
	node   *network.Node
	engine *syncmgr.Manager
	addr   string
	log    *zap.Logger

	httpSrv *http.Server
}

// NewServer creates an RPC server bound to addr.
func NewServer(node *network.Node, engine *syncmgr.Manager, addr string, log *zap.Logger) *Server {
	return &Server{
		node:   node,
		engine: engine,
		addr:   addr,
		log:    log,
	}
}

// Response is the envelope for every RPC reply.
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// StatusResponse combines the peer-layer and sync-layer snapshots.
type StatusResponse struct {
	Node network.Status `json:"node"`
	Sync syncmgr.Status `json:"sync"`
}

// ConnectResponse reports a manual-connect outcome.
type ConnectResponse struct {
	Connected bool `json:"connected"`
}

// Handler returns the RPC route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/connect", s.handleConnect)
	return mux
}

// Start serves HTTP until Stop is called. Blocking.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.Handler()}

	s.log.Info("rpc server listening", zap.String("addr", s.addr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() {
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeResult(w, StatusResponse{
		Node: s.node.Status(),
		Sync: s.engine.Status(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	host := r.URL.Query().Get("host")
	port, err := strconv.Atoi(r.URL.Query().Get("port"))
	if host == "" || err != nil || port < 1 || port > 65535 {
		writeError(w, http.StatusBadRequest, "host and port query parameters required")
		return
	}

	ok := s.node.Connect(host, port)
	writeResult(w, ConnectResponse{Connected: ok})
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{Result: result})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Response{Error: msg})
}
