package api

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/audioserve/audioserve/internal/auth"
	"github.com/audioserve/audioserve/internal/httputil"
	"github.com/audioserve/audioserve/internal/transcode"
)

// handleAuthenticate implements /authenticate: the client proves
// knowledge of the shared secret by hashing it together with a nonce it
// chose, and gets a capability token back.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed form body")
		return
	}
	secretField := r.PostFormValue("secret")
	parts := strings.SplitN(secretField, "|", 2)
	if len(parts) != 2 {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "secret must be nonce|hash")
		return
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed nonce")
		return
	}
	submittedHash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed hash")
		return
	}

	sum := sha256.Sum256(append(append([]byte{}, s.secret...), nonce...))
	if !auth.ConstantTimeEqual(base64.StdEncoding.EncodeToString(sum[:]), base64.StdEncoding.EncodeToString(submittedHash)) {
		httputil.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "secret does not match")
		return
	}

	ttl := time.Duration(s.cfg.TokenValidityDays) * 24 * time.Hour
	token, err := auth.IssueToken(s.secret, ttl)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	httputil.WriteRaw(w, http.StatusOK, map[string]string{"token": token})
}

// handleCollections answers /collections: {count, names[], folder_download}.
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	cols := s.cfg.Collections
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	httputil.WriteRaw(w, http.StatusOK, map[string]interface{}{
		"count":           len(cols),
		"names":           names,
		"folder_download": !s.cfg.DisableFolderDownload,
	})
}

// handleTranscodings answers /transcodings: the profile set selected for
// this client's User-Agent, plus the configured admission limit.
func (s *Server) handleTranscodings(w http.ResponseWriter, r *http.Request) {
	profiles := transcode.ProfilesForUserAgent(r.UserAgent())
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	httputil.WriteRaw(w, http.StatusOK, map[string]interface{}{
		"transcodings":     names,
		"max_transcodings": s.cfg.MaxTranscodings,
	})
}
