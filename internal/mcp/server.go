package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	dbconnector "kpiwatch-backend"
	"kpiwatch-backend/internal/security"
)

// Backend is the warehouse access the server exposes over JSON-RPC.
type Backend interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (*dbconnector.TableSchema, error)
	Aggregate(ctx context.Context, req dbconnector.AggregateRequest) (dbconnector.AggregateResult, error)
	FetchSeries(ctx context.Context, req dbconnector.SeriesRequest) ([]dbconnector.SeriesPoint, error)
}

type Server struct {
	Backend   Backend
	Allowlist security.Allowlist
	Limits    security.Limits
	Logger    *slog.Logger
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeRPC(w, http.StatusMethodNotAllowed, rpcFailure(nil, codeInvalidRequest, "method not allowed"))
		return
	}
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, http.StatusBadRequest, rpcFailure(nil, codeParseError, "invalid json"))
		return
	}
	resp := s.dispatch(r.Context(), req)
	writeRPC(w, statusFor(resp.Error), resp)
}

// ServeStdio answers newline-delimited requests from r until EOF.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := json.NewDecoder(bufio.NewReader(r))
	enc := json.NewEncoder(w)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return enc.Encode(rpcFailure(nil, codeParseError, "invalid json"))
		}
		if err := enc.Encode(s.dispatch(ctx, req)); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return rpcFailure(req.ID, codeInvalidRequest, "invalid request")
	}
	limits := s.Limits
	defaults := security.DefaultLimits()
	if limits.MaxQueryDuration <= 0 {
		limits.MaxQueryDuration = defaults.MaxQueryDuration
	}
	if limits.MaxSampleRows <= 0 {
		limits.MaxSampleRows = defaults.MaxSampleRows
	}
	ctx, cancel := context.WithTimeout(ctx, limits.MaxQueryDuration)
	defer cancel()

	start := time.Now()
	result, rpcErr := s.handle(ctx, req, limits)
	if s.Logger != nil {
		attrs := []any{slog.String("method", req.Method), slog.Duration("duration", time.Since(start))}
		if rpcErr != nil {
			s.Logger.Warn("rpc call failed", append(attrs, slog.String("error", rpcErr.Message))...)
		} else {
			s.Logger.Debug("rpc call", attrs...)
		}
	}
	if rpcErr != nil {
		return response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return rpcFailure(req.ID, codeInternal, err.Error())
	}
	return response{JSONRPC: "2.0", ID: req.ID, Result: data}
}

func (s *Server) handle(ctx context.Context, req request, limits security.Limits) (any, *Error) {
	switch req.Method {
	case MethodListTables:
		tables, err := s.Backend.ListTables(ctx)
		if err != nil {
			return nil, &Error{Code: codeInternal, Message: err.Error()}
		}
		visible := []string{}
		for _, table := range tables {
			if s.Allowlist.AllowsTable(table) {
				visible = append(visible, table)
			}
		}
		return ListTablesResult{Tables: visible}, nil
	case MethodDescribeTable:
		var params DescribeTableParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &Error{Code: codeInvalidParams, Message: "invalid params"}
		}
		if rpcErr := s.checkTable(params.Table); rpcErr != nil {
			return nil, rpcErr
		}
		schema, err := s.Backend.DescribeTable(ctx, params.Table)
		if err != nil {
			return nil, &Error{Code: codeInternal, Message: err.Error()}
		}
		columns := []dbconnector.ColumnInfo{}
		if schema != nil {
			columns = append(columns, schema.Columns...)
		}
		return DescribeTableResult{Columns: columns}, nil
	case MethodAggregate:
		var params AggregateParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &Error{Code: codeInvalidParams, Message: "invalid params"}
		}
		if rpcErr := s.checkColumns(params.Table, params.ValueColumn, params.TimestampColumn); rpcErr != nil {
			return nil, rpcErr
		}
		fn := dbconnector.AggregateFunc(params.Agg)
		if !fn.Valid() {
			return nil, &Error{Code: codeInvalidParams, Message: "unsupported aggregation"}
		}
		result, err := s.Backend.Aggregate(ctx, dbconnector.AggregateRequest{
			Table:           params.Table,
			ValueColumn:     params.ValueColumn,
			TimestampColumn: params.TimestampColumn,
			Func:            fn,
			Since:           params.Since,
		})
		if err != nil {
			return nil, &Error{Code: codeInternal, Message: err.Error()}
		}
		return result, nil
	case MethodFetchSeries:
		var params SeriesParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &Error{Code: codeInvalidParams, Message: "invalid params"}
		}
		if rpcErr := s.checkColumns(params.Table, params.ValueColumn, params.TimestampColumn); rpcErr != nil {
			return nil, rpcErr
		}
		limit := params.Limit
		if params.All {
			limit = 0
		} else if limit <= 0 || limit > limits.MaxSampleRows {
			limit = limits.MaxSampleRows
		}
		points, err := s.Backend.FetchSeries(ctx, dbconnector.SeriesRequest{
			Table:           params.Table,
			ValueColumn:     params.ValueColumn,
			TimestampColumn: params.TimestampColumn,
			Since:           params.Since,
			Limit:           limit,
			All:             params.All,
		})
		if err != nil {
			return nil, &Error{Code: codeInternal, Message: err.Error()}
		}
		if points == nil {
			points = []dbconnector.SeriesPoint{}
		}
		return SeriesResult{Points: points}, nil
	default:
		return nil, &Error{Code: codeMethodNotFound, Message: "method not found"}
	}
}

func (s *Server) checkTable(table string) *Error {
	if !security.IsSafeQualifiedIdentifier(table) {
		return &Error{Code: codeInvalidParams, Message: "unsafe identifier"}
	}
	if !s.Allowlist.AllowsTable(table) {
		return &Error{Code: codeInvalidParams, Message: "table not allowed"}
	}
	return nil
}

func (s *Server) checkColumns(table string, columns ...string) *Error {
	if rpcErr := s.checkTable(table); rpcErr != nil {
		return rpcErr
	}
	for _, col := range columns {
		if !security.IsSafeIdentifier(col) {
			return &Error{Code: codeInvalidParams, Message: "unsafe identifier"}
		}
	}
	return nil
}

func rpcFailure(id any, code int, message string) response {
	return response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

func statusFor(err *Error) int {
	if err == nil {
		return http.StatusOK
	}
	switch err.Code {
	case codeParseError, codeInvalidRequest, codeInvalidParams:
		return http.StatusBadRequest
	case codeMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeRPC(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
