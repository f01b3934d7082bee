package server

import (
	"net/http"

	"github.com/zombor/invoice-extract/internal/invoice"
	"github.com/zombor/invoice-extract/internal/scanning"
)

type healthResponse struct {
	Status      string `json:"status"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	Credentials string `json:"credentials,omitempty"`
}

// handleHealth reports liveness and the configured backend without calling it
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Credentials: s.config.Identity.Mode}
	if s.diagnoser != nil {
		resp.Provider = s.diagnoser.Provider()
		resp.Model = s.diagnoser.Model()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWhoAmI reports the credential mode, project and service account
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity := s.config.Identity
	if identity.Mode == "" {
		identity.Mode = scanning.CredentialModeNone
	}
	writeJSON(w, http.StatusOK, identity)
}

// handleCheckModel looks up the configured model with the configured credentials.
// A model the provider does not know is 404 and one the credentials may not use
// is 403.
func (s *Server) handleCheckModel(w http.ResponseWriter, r *http.Request) {
	info, err := s.diagnoser.ModelInfo(r.Context())
	if err != nil {
		switch code := scanning.ProviderStatus(err); code {
		case http.StatusNotFound, http.StatusForbidden:
			var kind string
			if k, ok := invoice.KindOf(err); ok {
				kind = k.String()
			}
			writeError(w, code, err.Error(), kind)
		default:
			writePipelineError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"provider": s.diagnoser.Provider(),
		"model":    info,
	})
}

// handleListModels lists the models whose name contains the prefix query parameter
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	models, err := s.diagnoser.ListModels(r.Context(), prefix)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if models == nil {
		models = []scanning.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(models),
		"models": models,
	})
}

// handlePingModel sends a trivial prompt to the model
func (s *Server) handlePingModel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.modelContext(r.Context())
	defer cancel()

	reply, err := s.diagnoser.Ping(ctx)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"model": s.diagnoser.Model(),
		"reply": reply,
	})
}
