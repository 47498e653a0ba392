// Package api implements the HTTP surface spec.md §6 describes: ingestion,
// range reads over the transaction log, job status, and pool metadata. It
// follows the teacher's own net/http + http.ServeMux composition from
// rpc/server.go rather than a third-party router -- no router library
// appears as a direct import anywhere in the retrieval pack (see
// DESIGN.md) -- generalized from one JSON-RPC endpoint to five REST ones
// using Go's route-pattern ServeMux.
package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/zeropool/relayer/log"
	"github.com/zeropool/relayer/pool/felt"
	"github.com/zeropool/relayer/pool/merkle"
	"github.com/zeropool/relayer/pool/state"
	"github.com/zeropool/relayer/pool/txlog"
	"github.com/zeropool/relayer/pool/validator"
	"github.com/zeropool/relayer/pool/worker"
)

// Config carries the values the HTTP surface needs beyond the shared
// AppState (spec.md §6's FEE env var).
type Config struct {
	Fee uint64
}

// Server is the HTTP surface: a thin dispatch layer over *state.AppState
// and *worker.Worker with no mutable state of its own.
type Server struct {
	state  *state.AppState
	worker *worker.Worker
	cfg    Config
	mux    *http.ServeMux
	log    *log.Logger
}

// NewServer builds a Server and registers every route from spec.md §6.
func NewServer(st *state.AppState, w *worker.Worker, cfg Config) *Server {
	s := &Server{state: st, worker: w, cfg: cfg, mux: http.NewServeMux(), log: log.Default().Module("api")}
	s.mux.HandleFunc("GET /info", s.handleInfo)
	s.mux.HandleFunc("POST /transactions", s.handleCreateTransaction)
	s.mux.HandleFunc("POST /sendTransactions", s.handleSendTransactionsLegacy)
	s.mux.HandleFunc("GET /transactions", s.handleGetTransactions)
	s.mux.HandleFunc("GET /job/{id}", s.handleJob)
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, simpleErrorResponse{Error: "not found"})
}

func (s *Server) writeInternalError(w http.ResponseWriter, err error) {
	s.log.Error("internal error serving request", "err", err)
	writeJSON(w, http.StatusInternalServerError, simpleErrorResponse{Error: err.Error()})
}

func writeValidationErrors(w http.ResponseWriter, summary string, items []validationErrorItem) {
	writeJSON(w, http.StatusBadRequest, validationErrorResponse{Error: summary, Errors: items})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	poolIndex, poolRoot := s.state.PoolIndex(), s.state.PoolRoot()

	s.state.TreeMu.Lock()
	optimisticRoot := s.state.Tree.Root()
	optimisticDeltaIndex := s.state.Tree.NumLeaves() * merkle.Stride
	s.state.TreeMu.Unlock()

	writeJSON(w, http.StatusOK, infoResponse{
		APIVersion:           apiVersion,
		Root:                 felt.ToBigInt(poolRoot).String(),
		OptimisticRoot:       felt.ToBigInt(optimisticRoot).String(),
		DeltaIndex:           strconv.FormatUint(poolIndex, 10),
		OptimisticDeltaIndex: strconv.FormatUint(optimisticDeltaIndex, 10),
	})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req txDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationErrors(w, "malformed request body", []validationErrorItem{{Error: err.Error(), Code: "BadRequest"}})
		return
	}
	s.createTransaction(w, r, req)
}

func (s *Server) handleSendTransactionsLegacy(w http.ResponseWriter, r *http.Request) {
	var reqs []txDataRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeValidationErrors(w, "malformed request body", []validationErrorItem{{Error: err.Error(), Code: "BadRequest"}})
		return
	}
	if len(reqs) == 0 {
		writeValidationErrors(w, "no transaction data provided", []validationErrorItem{{Error: "empty batch", Code: "BadRequest"}})
		return
	}
	if len(reqs) > 1 {
		writeValidationErrors(w, "can only process one transaction at a time", []validationErrorItem{{Error: "batch too large", Code: "BadRequest"}})
		return
	}
	s.createTransaction(w, r, reqs[0])
}

func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request, req txDataRequest) {
	tx, publicInputs, err := req.decode()
	if err != nil {
		writeValidationErrors(w, "malformed transaction", []validationErrorItem{{Error: err.Error(), Code: "BadRequest"}})
		return
	}

	cfg := validator.Config{Fee: s.cfg.Fee, PoolIndex: s.state.PoolIndex()}
	validationErrs := validator.Validate(&tx, s.state.Verifier, publicInputs, cfg)
	validationErrs = append(validationErrs, s.state.Backend.ValidateTx(r.Context(), &tx)...)
	if len(validationErrs) > 0 {
		items := make([]validationErrorItem, len(validationErrs))
		for i, e := range validationErrs {
			items[i] = validationErrorItem{Error: e.Error, Code: e.Code}
		}
		writeValidationErrors(w, "transaction validation failed", items)
		return
	}

	jobID, err := s.worker.PrepareJob(r.Context(), tx)
	if err != nil {
		s.writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createTransactionResponse{JobID: jobID})
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	offset, limit := uint64(0), uint64(100)
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			offset = parsed
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			limit = parsed
		}
	}

	poolIndex := s.state.PoolIndex()
	indices, records, err := s.state.Log.IterRange(offset, offset+limit*merkle.Stride)
	if err != nil {
		s.writeInternalError(w, err)
		return
	}

	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = hex.EncodeToString(encodeMinedRecord(indices[i] < poolIndex, rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func encodeMinedRecord(mined bool, rec txlog.Record) []byte {
	buf := make([]byte, 0, 1+32+len(rec.TxHash)+len(rec.Ciphertext))
	if mined {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, rec.OutCommit[:]...)
	buf = append(buf, rec.TxHash...)
	buf = append(buf, rec.Ciphertext...)
	return buf
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeNotFound(w)
		return
	}
	status, ok, err := s.state.Queue.Status(r.Context(), id)
	if err != nil {
		s.writeInternalError(w, err)
		return
	}
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{State: string(status)})
}
