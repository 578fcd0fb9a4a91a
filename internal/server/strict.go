package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/dgnsrekt/livetiming-relay/internal/broadcast"
	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

// StrictServerInterface holds the typed operations of api/openapi.yaml. The
// streaming routes are plain handlers and are not part of it.
type StrictServerInterface interface {
	// (GET /negotiate)
	Negotiate(ctx context.Context, request NegotiateRequestObject) (NegotiateResponseObject, error)
	// (GET /status)
	GetStatus(ctx context.Context, request GetStatusRequestObject) (GetStatusResponseObject, error)
	// (GET /initialData)
	GetInitialData(ctx context.Context, request GetInitialDataRequestObject) (GetInitialDataResponseObject, error)
	// (POST /toggleSimulation)
	ToggleSimulation(ctx context.Context, request ToggleSimulationRequestObject) (ToggleSimulationResponseObject, error)
	// (GET /fix-data)
	FixData(ctx context.Context, request FixDataRequestObject) (FixDataResponseObject, error)
	// (GET /recent)
	GetRecent(ctx context.Context, request GetRecentRequestObject) (GetRecentResponseObject, error)
	// (POST /reload)
	Reload(ctx context.Context, request ReloadRequestObject) (ReloadResponseObject, error)
	// (GET /healthz)
	GetHealth(ctx context.Context, request GetHealthRequestObject) (GetHealthResponseObject, error)
}

type NegotiateParams struct {
	Simulation *bool `form:"simulation,omitempty" json:"simulation,omitempty"`
}

type ToggleSimulationJSONRequestBody struct {
	Enable bool `json:"enable"`
}

type ReloadJSONRequestBody struct {
	SessionPath string `json:"sessionPath,omitempty"`
}

type InitialDataResponse struct {
	R snapshot.ReferenceBlock `json:"R"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// negotiate

type NegotiateRequestObject struct {
	Params NegotiateParams
}

type NegotiateResponseObject interface {
	VisitNegotiateResponse(w http.ResponseWriter) error
}

type Negotiate200ResponseHeaders struct {
	SetCookie []string
}

type Negotiate200JSONResponse struct {
	Body    NegotiateResponse
	Headers Negotiate200ResponseHeaders
}

func (response Negotiate200JSONResponse) VisitNegotiateResponse(w http.ResponseWriter) error {
	for _, c := range response.Headers.SetCookie {
		w.Header().Add("Set-Cookie", c)
	}
	return writeJSON(w, http.StatusOK, response.Body)
}

// status

type GetStatusRequestObject struct{}

type GetStatusResponseObject interface {
	VisitGetStatusResponse(w http.ResponseWriter) error
}

type GetStatus200JSONResponse StatusResponse

func (response GetStatus200JSONResponse) VisitGetStatusResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusOK, response)
}

// initialData

type GetInitialDataRequestObject struct{}

type GetInitialDataResponseObject interface {
	VisitGetInitialDataResponse(w http.ResponseWriter) error
}

type GetInitialData200JSONResponse InitialDataResponse

func (response GetInitialData200JSONResponse) VisitGetInitialDataResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusOK, response)
}

// toggleSimulation

type ToggleSimulationRequestObject struct {
	Body *ToggleSimulationJSONRequestBody
}

type ToggleSimulationResponseObject interface {
	VisitToggleSimulationResponse(w http.ResponseWriter) error
}

type ToggleSimulation200JSONResponse MessageResponse

func (response ToggleSimulation200JSONResponse) VisitToggleSimulationResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusOK, response)
}

type ToggleSimulation400JSONResponse ErrorResponse

func (response ToggleSimulation400JSONResponse) VisitToggleSimulationResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusBadRequest, response)
}

// fix-data

type FixDataRequestObject struct{}

type FixDataResponseObject interface {
	VisitFixDataResponse(w http.ResponseWriter) error
}

type FixData200JSONResponse MessageResponse

func (response FixData200JSONResponse) VisitFixDataResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusOK, response)
}

type FixData500JSONResponse ErrorResponse

func (response FixData500JSONResponse) VisitFixDataResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusInternalServerError, response)
}

// recent

type GetRecentRequestObject struct{}

type GetRecentResponseObject interface {
	VisitGetRecentResponse(w http.ResponseWriter) error
}

type GetRecent200JSONResponse RecentResponse

func (response GetRecent200JSONResponse) VisitGetRecentResponse(w http.ResponseWriter) error {
	if response.Updates == nil {
		response.Updates = []broadcast.Entry{}
	}
	return writeJSON(w, http.StatusOK, response)
}

// reload

// ReloadRequestObject carries an optional body; Body is nil when the request
// had none.
type ReloadRequestObject struct {
	Body *ReloadJSONRequestBody
}

type ReloadResponseObject interface {
	VisitReloadResponse(w http.ResponseWriter) error
}

type Reload200JSONResponse RefreshResult

func (response Reload200JSONResponse) VisitReloadResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusOK, response)
}

type Reload409JSONResponse ErrorResponse

func (response Reload409JSONResponse) VisitReloadResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusConflict, response)
}

type Reload502JSONResponse ErrorResponse

func (response Reload502JSONResponse) VisitReloadResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusBadGateway, response)
}

type Reload503JSONResponse ErrorResponse

func (response Reload503JSONResponse) VisitReloadResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusServiceUnavailable, response)
}

// healthz

type GetHealthRequestObject struct{}

type GetHealthResponseObject interface {
	VisitGetHealthResponse(w http.ResponseWriter) error
}

type GetHealth200JSONResponse HealthResponse

func (response GetHealth200JSONResponse) VisitGetHealthResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusOK, response)
}

// StrictHTTPServerOptions controls how decode and handler errors are written.
type StrictHTTPServerOptions struct {
	RequestErrorHandlerFunc  func(w http.ResponseWriter, r *http.Request, err error)
	ResponseErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// StrictHandler adapts a StrictServerInterface to net/http: it binds
// parameters, decodes bodies and writes the returned response object.
type StrictHandler struct {
	ssi     StrictServerInterface
	options StrictHTTPServerOptions
}

func NewStrictHandler(ssi StrictServerInterface, options *StrictHTTPServerOptions) *StrictHandler {
	opts := StrictHTTPServerOptions{
		RequestErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			_ = writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request", Message: err.Error()})
		},
		ResponseErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			_ = writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Message: err.Error()})
		},
	}
	if options != nil {
		if options.RequestErrorHandlerFunc != nil {
			opts.RequestErrorHandlerFunc = options.RequestErrorHandlerFunc
		}
		if options.ResponseErrorHandlerFunc != nil {
			opts.ResponseErrorHandlerFunc = options.ResponseErrorHandlerFunc
		}
	}
	return &StrictHandler{ssi: ssi, options: opts}
}

func (sh *StrictHandler) Negotiate(w http.ResponseWriter, r *http.Request) {
	var request NegotiateRequestObject
	if err := runtime.BindQueryParameter("form", true, false, "simulation", r.URL.Query(), &request.Params.Simulation); err != nil {
		sh.options.RequestErrorHandlerFunc(w, r, fmt.Errorf("invalid format for parameter simulation: %w", err))
		return
	}
	response, err := sh.ssi.Negotiate(r.Context(), request)
	respond(sh, w, r, response, err, NegotiateResponseObject.VisitNegotiateResponse)
}

func (sh *StrictHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	response, err := sh.ssi.GetStatus(r.Context(), GetStatusRequestObject{})
	respond(sh, w, r, response, err, GetStatusResponseObject.VisitGetStatusResponse)
}

func (sh *StrictHandler) GetInitialData(w http.ResponseWriter, r *http.Request) {
	response, err := sh.ssi.GetInitialData(r.Context(), GetInitialDataRequestObject{})
	respond(sh, w, r, response, err, GetInitialDataResponseObject.VisitGetInitialDataResponse)
}

func (sh *StrictHandler) ToggleSimulation(w http.ResponseWriter, r *http.Request) {
	var request ToggleSimulationRequestObject
	var body ToggleSimulationJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sh.options.RequestErrorHandlerFunc(w, r, fmt.Errorf("can't decode JSON body: %w", err))
		return
	}
	request.Body = &body
	response, err := sh.ssi.ToggleSimulation(r.Context(), request)
	respond(sh, w, r, response, err, ToggleSimulationResponseObject.VisitToggleSimulationResponse)
}

func (sh *StrictHandler) FixData(w http.ResponseWriter, r *http.Request) {
	response, err := sh.ssi.FixData(r.Context(), FixDataRequestObject{})
	respond(sh, w, r, response, err, FixDataResponseObject.VisitFixDataResponse)
}

func (sh *StrictHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	response, err := sh.ssi.GetRecent(r.Context(), GetRecentRequestObject{})
	respond(sh, w, r, response, err, GetRecentResponseObject.VisitGetRecentResponse)
}

func (sh *StrictHandler) Reload(w http.ResponseWriter, r *http.Request) {
	var request ReloadRequestObject
	var body ReloadJSONRequestBody
	switch err := json.NewDecoder(r.Body).Decode(&body); {
	case errors.Is(err, io.EOF):
	case err != nil:
		sh.options.RequestErrorHandlerFunc(w, r, fmt.Errorf("can't decode JSON body: %w", err))
		return
	default:
		request.Body = &body
	}
	response, err := sh.ssi.Reload(r.Context(), request)
	respond(sh, w, r, response, err, ReloadResponseObject.VisitReloadResponse)
}

func (sh *StrictHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response, err := sh.ssi.GetHealth(r.Context(), GetHealthRequestObject{})
	respond(sh, w, r, response, err, GetHealthResponseObject.VisitGetHealthResponse)
}

func respond[T any](sh *StrictHandler, w http.ResponseWriter, r *http.Request, response T, err error, visit func(T, http.ResponseWriter) error) {
	if err != nil {
		sh.options.ResponseErrorHandlerFunc(w, r, err)
		return
	}
	if any(response) == nil {
		sh.options.ResponseErrorHandlerFunc(w, r, fmt.Errorf("unexpected response type: %T", response))
		return
	}
	if err := visit(response, w); err != nil {
		sh.options.ResponseErrorHandlerFunc(w, r, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
