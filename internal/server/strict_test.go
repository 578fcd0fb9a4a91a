package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingServer captures the typed requests the strict handler builds.
// Operations it does not override panic through the nil embedded interface.
type recordingServer struct {
	StrictServerInterface

	negotiate []NegotiateRequestObject
	toggle    []ToggleSimulationRequestObject
	reload    []ReloadRequestObject
	healthErr error
	nilHealth bool
}

func (f *recordingServer) Negotiate(_ context.Context, request NegotiateRequestObject) (NegotiateResponseObject, error) {
	f.negotiate = append(f.negotiate, request)
	return Negotiate200JSONResponse{
		Body:    NegotiateResponse{ConnectionToken: "t", ConnectionID: "c"},
		Headers: Negotiate200ResponseHeaders{SetCookie: []string{"a=1", "b=2"}},
	}, nil
}

func (f *recordingServer) ToggleSimulation(_ context.Context, request ToggleSimulationRequestObject) (ToggleSimulationResponseObject, error) {
	f.toggle = append(f.toggle, request)
	return ToggleSimulation200JSONResponse{Status: "ok"}, nil
}

func (f *recordingServer) Reload(_ context.Context, request ReloadRequestObject) (ReloadResponseObject, error) {
	f.reload = append(f.reload, request)
	return Reload409JSONResponse{Error: "busy"}, nil
}

func (f *recordingServer) GetHealth(context.Context, GetHealthRequestObject) (GetHealthResponseObject, error) {
	if f.nilHealth {
		return nil, nil
	}
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return GetHealth200JSONResponse{Status: "ok"}, nil
}

func serveStrict(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestStrictHandler_ReloadBodyIsOptional(t *testing.T) {
	ssi := &recordingServer{}
	h := NewStrictHandler(ssi, nil)

	rec := serveStrict(h.Reload, http.MethodPost, "/reload", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"busy"}`, rec.Body.String())

	serveStrict(h.Reload, http.MethodPost, "/reload", `{"sessionPath":"2025/x/"}`)

	require.Len(t, ssi.reload, 2)
	assert.Nil(t, ssi.reload[0].Body)
	require.NotNil(t, ssi.reload[1].Body)
	assert.Equal(t, "2025/x/", ssi.reload[1].Body.SessionPath)
}

func TestStrictHandler_MalformedBodyNeverReachesServer(t *testing.T) {
	ssi := &recordingServer{}
	h := NewStrictHandler(ssi, nil)

	for _, tc := range []struct {
		name    string
		handler http.HandlerFunc
		body    string
	}{
		{"reload", h.Reload, `{"sessionPath":`},
		{"toggle", h.ToggleSimulation, `not json`},
		{"toggle wrong type", h.ToggleSimulation, `{"enable":"yes"}`},
		{"toggle empty", h.ToggleSimulation, ``},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := serveStrict(tc.handler, http.MethodPost, "/", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, decodeBody[ErrorResponse](t, rec).Message, "can't decode JSON body")
		})
	}
	assert.Empty(t, ssi.reload)
	assert.Empty(t, ssi.toggle)
}

func TestStrictHandler_ToggleSimulationDecodesTypedBody(t *testing.T) {
	ssi := &recordingServer{}
	h := NewStrictHandler(ssi, nil)

	rec := serveStrict(h.ToggleSimulation, http.MethodPost, "/toggleSimulation", `{"enable":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ssi.toggle, 1)
	require.NotNil(t, ssi.toggle[0].Body)
	assert.True(t, ssi.toggle[0].Body.Enable)
}

func TestStrictHandler_NegotiateBindsQueryAndHeaders(t *testing.T) {
	ssi := &recordingServer{}
	h := NewStrictHandler(ssi, nil)

	rec := serveStrict(h.Negotiate, http.MethodGet, "/negotiate?simulation=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a=1", "b=2"}, rec.Header().Values("Set-Cookie"))
	assert.JSONEq(t, `{"ConnectionToken":"t","ConnectionId":"c"}`, rec.Body.String())

	serveStrict(h.Negotiate, http.MethodGet, "/negotiate", "")

	rec = serveStrict(h.Negotiate, http.MethodGet, "/negotiate?simulation=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Len(t, ssi.negotiate, 2)
	require.NotNil(t, ssi.negotiate[0].Params.Simulation)
	assert.True(t, *ssi.negotiate[0].Params.Simulation)
	assert.Nil(t, ssi.negotiate[1].Params.Simulation)
}

func TestStrictHandler_ResponseErrors(t *testing.T) {
	ssi := &recordingServer{healthErr: errors.New("boom")}

	rec := serveStrict(NewStrictHandler(ssi, nil).GetHealth, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", decodeBody[ErrorResponse](t, rec).Message)

	var got error
	h := NewStrictHandler(&recordingServer{nilHealth: true}, &StrictHTTPServerOptions{
		ResponseErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		},
	})
	rec = serveStrict(h.GetHealth, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	require.Error(t, got)
	assert.Contains(t, got.Error(), "unexpected response type")
}

func TestServer_TypedOperations(t *testing.T) {
	env := newTestEnv(t, nil, "")
	ctx := context.Background()

	toggle, err := env.server.ToggleSimulation(ctx, ToggleSimulationRequestObject{})
	require.NoError(t, err)
	assert.IsType(t, ToggleSimulation400JSONResponse{}, toggle)
	assert.False(t, env.sim.Active())

	toggle, err = env.server.ToggleSimulation(ctx, ToggleSimulationRequestObject{Body: &ToggleSimulationJSONRequestBody{Enable: true}})
	require.NoError(t, err)
	assert.Equal(t, ToggleSimulation200JSONResponse{Status: "Simulation started"}, toggle)

	// No body and no configured session.
	reload, err := env.server.Reload(ctx, ReloadRequestObject{})
	require.NoError(t, err)
	assert.IsType(t, Reload502JSONResponse{}, reload)

	const session = "2025/2025-05-18_Emilia_Romagna_Grand_Prix/2025-05-16_Practice_2/"
	reload, err = env.server.Reload(ctx, ReloadRequestObject{Body: &ReloadJSONRequestBody{SessionPath: session}})
	require.NoError(t, err)
	ok, isOK := reload.(Reload200JSONResponse)
	require.True(t, isOK)
	assert.Equal(t, session, ok.SessionPath)
	assert.Equal(t, 1, ok.TopicsLoaded)

	neg, err := env.server.Negotiate(ctx, NegotiateRequestObject{})
	require.NoError(t, err)
	assert.Equal(t, SimulationFallbackToken, neg.(Negotiate200JSONResponse).Body.ConnectionToken)
}

func TestServer_ReloadWithoutArchive(t *testing.T) {
	srv := NewServer(Deps{}, nil)

	resp, err := srv.Reload(context.Background(), ReloadRequestObject{})
	require.NoError(t, err)
	assert.Equal(t, Reload503JSONResponse{Error: "archive bootstrap is disabled"}, resp)
}
