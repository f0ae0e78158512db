// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
)

// AsStatus creates a grpc status error with code and the message of err.
// Details that cannot be packed are dropped.
func AsStatus(code codes.Code, err error, details ...proto.Message) error {
	p := status.New(code, err.Error()).Proto()
	for _, detail := range details {
		m, err := anypb.New(detail)
		if err != nil {
			log.Printf("dropping status detail %v: %v", detail, err)
			continue
		}
		p.Details = append(p.Details, m)
	}
	return status.FromProto(p).Err()
}

// RetryAfter is a status detail asking the caller to back off.
// Over HTTP it is only honored on Unavailable and ResourceExhausted.
func RetryAfter(after time.Duration) proto.Message {
	return &errdetails.RetryInfo{RetryDelay: durationpb.New(after)}
}

var grpcToHTTP = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.Canceled:           499, // Client Closed Request
	codes.Unknown:            http.StatusInternalServerError,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.FailedPrecondition: http.StatusBadRequest,
	codes.Aborted:            http.StatusConflict,
	codes.OutOfRange:         http.StatusBadRequest,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DataLoss:           http.StatusInternalServerError,
	codes.Unauthenticated:    http.StatusUnauthorized,
}

// httpToGRPC recovers a code for responses without an ErrorBody.
func httpToGRPC(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotImplemented:
		return codes.Unimplemented
	default:
		return codes.Unknown
	}
}

// parseCode inverts codes.Code.String.
func parseCode(name string) (codes.Code, bool) {
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return codes.Unknown, false
}

// ErrorBody is the JSON document returned with every failed request.
type ErrorBody struct {
	Code      string `json:"code"`
	Status    int    `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError encodes s as the response. RetryInfo details become a
// Retry-After header.
func writeError(rw http.ResponseWriter, s *status.Status, reqID string) {
	httpStatus, ok := grpcToHTTP[s.Code()]
	if !ok {
		log.Printf("[%s] unknown error code %s", reqID, s.Code())
		httpStatus = http.StatusInternalServerError
	}
	for _, detail := range s.Details() {
		if d, ok := detail.(*errdetails.RetryInfo); ok && d.RetryDelay != nil {
			if seconds := int(d.RetryDelay.Seconds); seconds > 0 {
				rw.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
		}
	}
	writeErrorStatus(rw, s, httpStatus, reqID)
}

func writeErrorStatus(rw http.ResponseWriter, s *status.Status, httpStatus int, reqID string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(httpStatus)
	// The status message rather than err.Error(), which repeats the code.
	body := ErrorBody{Code: s.Code().String(), Status: httpStatus, Message: s.Message(), RequestID: reqID}
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		log.Printf("[%s] encoding error response: %v", reqID, err)
	}
}

// readError rebuilds the status a handler reported in resp.
func readError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	code := httpToGRPC(resp.StatusCode)
	msg := string(b)
	var body ErrorBody
	if json.Unmarshal(b, &body) == nil && body.Code != "" {
		if c, ok := parseCode(body.Code); ok {
			code = c
		}
		msg = body.Message
		if body.RequestID != "" {
			msg = "[" + body.RequestID + "] " + msg
		}
	}
	var details []proto.Message
	if s := resp.Header.Get("Retry-After"); s != "" {
		if seconds, err := strconv.Atoi(s); err == nil && seconds > 0 {
			details = append(details, RetryAfter(time.Duration(seconds)*time.Second))
		}
	}
	return AsStatus(code, errors.New(msg), details...)
}
