package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	testAdmin    = "admin"
	testPassword = "secret"
)

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]interface{}
}

// fakeKeycloak is an in-memory stand-in for the parts of the Keycloak API
// the client talks to.
type fakeKeycloak struct {
	server *httptest.Server

	mu               sync.Mutex
	expiresIn        int
	refreshExpiresIn int
	tokenStatus      int
	tokenBody        string
	grants           []url.Values
	issued           map[string]bool
	refreshTokens    map[string]bool
	requests         []recordedRequest
	realms           map[string]map[string]interface{}
	objects          map[string]map[string]interface{}
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()

	f := &fakeKeycloak{
		expiresIn:        60,
		refreshExpiresIn: 1800,
		issued:           map[string]bool{},
		refreshTokens:    map[string]bool{},
		realms: map[string]map[string]interface{}{
			"master": {"id": "master", "realm": "master", "enabled": true},
		},
		objects: map[string]map[string]interface{}{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/{realm}/protocol/openid-connect/token", f.handleToken)
	mux.HandleFunc("GET /admin/realms", f.authorized(f.handleListRealms))
	mux.HandleFunc("POST /admin/realms", f.authorized(f.handleCreateRealm))
	mux.HandleFunc("GET /admin/realms/{realm}", f.authorized(f.handleGetRealm))
	mux.HandleFunc("DELETE /admin/realms/{realm}", f.authorized(f.handleDeleteRealm))
	mux.HandleFunc("POST /admin/realms/{realm}/{kind}", f.authorized(f.handleCreateObject))
	mux.HandleFunc("GET /admin/realms/{realm}/{kind}/{id}", f.authorized(f.handleGetObject))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeKeycloak) config() Config {
	return Config{
		BaseURL:  f.server.URL,
		Username: testAdmin,
		Password: testPassword,
	}
}

func (f *fakeKeycloak) setTokenResponse(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
	f.tokenBody = body
}

func (f *fakeKeycloak) grantTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, g := range f.grants {
		out = append(out, g.Get("grant_type"))
	}
	return out
}

func (f *fakeKeycloak) lastGrant() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.grants) == 0 {
		return nil
	}
	return f.grants[len(f.grants)-1]
}

func (f *fakeKeycloak) adminRequests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeKeycloak) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = nil
	f.requests = nil
}

func (f *fakeKeycloak) mintAccessToken(username string) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"jti":                uuid.NewString(),
		"sub":                uuid.NewString(),
		"azp":                AdminCLIClientID,
		"preferred_username": username,
	}).SignedString([]byte("fake-keycloak"))
	if err != nil {
		panic(err)
	}
	return token
}

func (f *fakeKeycloak) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, r.PostForm)

	if f.tokenStatus != 0 {
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(f.tokenBody))
		return
	}

	switch r.PostForm.Get("grant_type") {
	case GrantPassword:
		if r.PostForm.Get("username") != testAdmin || r.PostForm.Get("password") != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid user credentials"}`))
			return
		}
	case GrantRefreshToken:
		if !f.refreshTokens[r.PostForm.Get("refresh_token")] {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid refresh token"}`))
			return
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		return
	}

	access := f.mintAccessToken(testAdmin)
	refresh := uuid.NewString()
	f.issued[access] = true
	f.refreshTokens[refresh] = true

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":       access,
		"expires_in":         f.expiresIn,
		"refresh_token":      refresh,
		"refresh_expires_in": f.refreshExpiresIn,
		"token_type":         "Bearer",
		"scope":              "profile email",
	})
}

func (f *fakeKeycloak) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		ok := f.issued[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		f.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, body)))
	}
}

type bodyKey struct{}

func bodyOf(r *http.Request) map[string]interface{} {
	body, _ := r.Context().Value(bodyKey{}).(map[string]interface{})
	return body
}

func (f *fakeKeycloak) handleListRealms(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, realm := range f.realms {
		out = append(out, realm)
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeKeycloak) handleCreateRealm(w http.ResponseWriter, r *http.Request) {
	body := bodyOf(r)
	name, _ := body["realm"].(string)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.realms[name]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "Conflict detected. See logs for details"})
		return
	}
	info := map[string]interface{}{"id": uuid.NewString()}
	for k, v := range body {
		info[k] = v
	}
	f.realms[name] = info

	w.Header().Set("Location", f.server.URL+"/admin/realms/"+url.PathEscape(name))
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) handleGetRealm(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	realm, ok := f.realms[r.PathValue("realm")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm not found."})
		return
	}
	writeJSON(w, http.StatusOK, realm)
}

func (f *fakeKeycloak) handleDeleteRealm(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.realms[r.PathValue("realm")]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm not found."})
		return
	}
	delete(f.realms, r.PathValue("realm"))
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) handleCreateObject(w http.ResponseWriter, r *http.Request) {
	body := bodyOf(r)
	realm, kind := r.PathValue("realm"), r.PathValue("kind")

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.realms[realm]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm not found."})
		return
	}
	if kind != "clients" && kind != "users" {
		http.NotFound(w, r)
		return
	}

	id := uuid.NewString()
	info := map[string]interface{}{"id": id}
	for k, v := range body {
		if k == "credentials" {
			continue
		}
		info[k] = v
	}
	f.objects[realm+"/"+kind+"/"+id] = info

	w.Header().Set("Location", f.server.URL+"/admin/realms/"+url.PathEscape(realm)+"/"+kind+"/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) handleGetObject(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.objects[r.PathValue("realm")+"/"+r.PathValue("kind")+"/"+r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
