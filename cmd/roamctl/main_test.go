package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/matheus3301/roam/internal/config"
	"github.com/matheus3301/roam/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	reads atomic.Int32
}

func (b *backend) start(t *testing.T) *httptest.Server {
	t.Helper()
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"Access token missing or malformed"}`))
				return
			}
			h(w, r)
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid email or password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"Login successful","token":"tok"}`))
	})
	mux.HandleFunc("GET /api/users/profile", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"_id":"u1","email":"ana@example.com","firstName":"Ana","lastName":"Silva"}`))
	}))
	mux.HandleFunc("GET /api/notifications", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"_id":"n1","text":"liked your trip","isRead":false,"createdAt":"2024-05-01T10:00:00Z"}]`))
	}))
	mux.HandleFunc("GET /api/notifications/unread-count", authed(func(w http.ResponseWriter, r *http.Request) {
		// versioned so a bootstrap racing the read cannot roll the count back
		if b.reads.Load() > 0 {
			_, _ = w.Write([]byte(`{"unreadCount":0,"version":2}`))
			return
		}
		_, _ = w.Write([]byte(`{"unreadCount":1,"version":1}`))
	}))
	mux.HandleFunc("POST /api/notifications/{id}/read", authed(func(w http.ResponseWriter, r *http.Request) {
		b.reads.Add(1)
		_, _ = w.Write([]byte(`{"success":true,"notification":{"_id":"` + r.PathValue("id") + `","text":"liked your trip","isRead":true,"createdAt":"2024-05-01T10:00:00Z"},"unreadCount":0,"version":2}`))
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupProfile(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("ROAM_HOME", t.TempDir())
	t.Setenv(profile.EnvVar, "")
	require.NoError(t, profile.EnsureDir(profile.DefaultName))
	require.NoError(t, config.SaveProfile(profile.SettingsPath(profile.DefaultName), &config.Profile{APIBaseURL: baseURL}))
}

// run executes roamctl with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	profileFlag, jsonFlag, verboseFlag, watchFlag = "", false, false, false
	loginEmail, loginPassword = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStatusWithoutSession(t *testing.T) {
	srv := (&backend{}).start(t)
	setupProfile(t, srv.URL)

	out, err := run(t, "status", "--json")
	require.NoError(t, err)

	var v statusView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "ANONYMOUS", v.Status)
	assert.Nil(t, v.User)
}

func TestLoginReadAndStatus(t *testing.T) {
	be := &backend{}
	srv := be.start(t)
	setupProfile(t, srv.URL)

	out, err := run(t, "login", "--email", "ana@example.com", "--password", "secret")
	require.NoError(t, err)
	assert.Equal(t, "logged in as Ana Silva\n", out)

	// a new process restores the stored session
	out, err = run(t, "read", "n1")
	require.NoError(t, err)
	assert.Equal(t, "unread: 0\n", out)
	assert.Equal(t, int32(1), be.reads.Load())

	out, err = run(t, "status", "--json")
	require.NoError(t, err)
	var v statusView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "AUTHENTICATED", v.Status)
	require.NotNil(t, v.User)
	assert.Equal(t, "u1", v.User.ID)
}

func TestLoginRejected(t *testing.T) {
	srv := (&backend{}).start(t)
	setupProfile(t, srv.URL)

	_, err := run(t, "login", "--email", "ana@example.com", "--password", "wrong")
	require.EqualError(t, err, "Invalid email or password")
}

func TestReadRequiresSession(t *testing.T) {
	srv := (&backend{}).start(t)
	setupProfile(t, srv.URL)

	_, err := run(t, "read", "n1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}
