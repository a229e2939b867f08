// Package rpc implements the Submission and Execution RPC facades (C6).
// Each handler threads token validation, a size check (submission only),
// an availability check (submission's SubmitJob and GetServiceStatus
// only), and finally the business call into the job manager, translating
// every failure through the status-message catalog before it crosses the
// wire. It is grounded on the admin-api server/middleware pair, ported
// from its bespoke JWT+Redis surface onto gorilla/mux and the token
// service/job manager collaborators this scheduler actually has.
package rpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mqc3/scheduler/internal/errs"
	"github.com/mqc3/scheduler/internal/tokenservice"
)

type contextKey string

const (
	ctxKeyTokenInfo contextKey = "token_info"
	ctxKeyToken     contextKey = "token"
	ctxKeyRequestID contextKey = "request_id"
)

func tokenInfoFrom(ctx context.Context) (*tokenservice.Info, bool) {
	info, ok := ctx.Value(ctxKeyTokenInfo).(*tokenservice.Info)
	return info, ok
}

func tokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(ctxKeyToken).(string)
	return tok
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSchedulerError translates a scheduler *errs.Error into its HTTP
// status and JSON body. This is the one place the closed error taxonomy
// meets the transport.
func writeSchedulerError(w http.ResponseWriter, sErr *errs.Error) {
	writeJSON(w, httpStatusFor(sErr.Code), errorResponse{Error: sErr.Message, Code: string(sErr.Code)})
}

func httpStatusFor(code errs.Code) int {
	switch code {
	case errs.CodeInvalidArgument:
		return http.StatusBadRequest
	case errs.CodeUnauthenticated:
		return http.StatusUnauthorized
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeFailedPrecondition:
		return http.StatusConflict
	case errs.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case errs.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
