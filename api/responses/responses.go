package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
)

// Envelope is the body of every successful response.
type Envelope struct {
	Data any `json:"data"`
}

// ErrorBody is the body of every failed response.
type ErrorBody struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Data: data})
}

// WriteCreated writes a 201 envelope.
func WriteCreated(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusCreated, data)
}

// WriteError maps err to its coded status. Caller messages are shown for
// client errors and partial mutations; anything else gets the public message.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	body := ErrorBody{Error: APIError{Code: string(typed.Code()), Message: meta.PublicMessage}}
	if showsCallerMessage(typed.Code(), meta) && typed.Message() != "" {
		body.Error.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		body.Error.Details = typed.Details()
	}

	if logg != nil {
		logFailure(ctx, logg, err, typed, meta.HTTPStatus)
	}
	writeJSON(w, meta.HTTPStatus, body)
}

func showsCallerMessage(code pkgerrors.Code, meta pkgerrors.Metadata) bool {
	return meta.HTTPStatus < http.StatusInternalServerError || code == pkgerrors.CodePartialMutation
}

// logFailure records the error chain, postgres diagnostics and, for partial
// mutations, the step and pledges left for repair.
func logFailure(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error, status int) {
	fields := pkgerrors.Dump(err).LogFields()
	fields["status"] = status
	if details, ok := typed.Details().(map[string]any); ok {
		if step, ok := details["step"]; ok {
			fields["step"] = step
		}
		if pending, ok := details["pending"]; ok {
			fields["pending_pledge_ids"] = pending
		}
	}

	ctx = logg.WithFields(ctx, fields)
	if status < http.StatusInternalServerError {
		logg.Warn(ctx, "request.rejected")
		return
	}
	logg.Error(ctx, "request.error", err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
