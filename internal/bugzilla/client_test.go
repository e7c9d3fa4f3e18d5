package bugzilla

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
)

func newTestClient(t *testing.T, h http.HandlerFunc, mutate ...func(*ClientConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := ClientConfig{BaseURL: srv.URL, APIKey: "secret"}
	for _, fn := range mutate {
		fn(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestClient_QueryByIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/bug", r.URL.Path)
		assert.Equal(t, "1,2", r.URL.Query().Get("id"))
		assert.Equal(t, "id,depends_on,summary", r.URL.Query().Get("include_fields"))
		assert.Empty(t, r.URL.Query().Get("blocks"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "secret", r.Header.Get("X-BUGZILLA-API-KEY"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bugs":[{"id":1,"depends_on":[3],"summary":"one"},{"id":2,"summary":"two"}]}`))
	})

	resp, err := c.Query(context.Background(), Query{
		IDs:    []bug.ID{"1", "2"},
		Fields: []string{"id", "depends_on", "summary"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Bugs, 2)
	assert.Equal(t, []bug.ID{"3"}, resp.Bugs[0].DependsOn)
	assert.Equal(t, "two", resp.Bugs[1].String("summary"))
}

func TestClient_QueryBlockedBy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "870032", r.URL.Query().Get("blocks"))
		assert.Empty(t, r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`{"bugs":[]}`))
	})

	resp, err := c.Query(context.Background(), Query{BlockedBy: "870032"})
	require.NoError(t, err)
	assert.Empty(t, resp.Bugs)
}

func TestClient_EmptyQuerySkipsRequest(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	resp, err := c.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, resp.Bugs)
	assert.False(t, called)
}

func TestClient_StatusErrorIsTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"code":100,"message":"Bug #x does not exist."}`))
	})

	_, err := c.Query(context.Background(), Query{IDs: []bug.ID{"x"}})
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Equal(t, "Bug #x does not exist.", te.Message)
	assert.Contains(t, err.Error(), "400")
	assert.True(t, IsTransport(err))
	assert.False(t, IsMalformed(err))
}

func TestClient_NetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: url})
	require.NoError(t, err)

	_, err = c.Query(context.Background(), Query{IDs: []bug.ID{"1"}})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.NotNil(t, te.Unwrap())
}

func TestClient_MalformedBody(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"result": []}`,
		`{"bugs": [{"summary": "no id"}]}`,
	}
	for _, body := range bodies {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := c.Query(context.Background(), Query{IDs: []bug.ID{"1"}})
		assert.True(t, IsMalformed(err), body)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Query(ctx, Query{IDs: []bug.ID{"1"}})
	assert.True(t, IsTransport(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_RateLimited(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"bugs":[]}`))
	}, func(cfg *ClientConfig) {
		cfg.RequestsPerSecond = 1
		cfg.Burst = 1
	})

	_, err := c.Query(context.Background(), Query{IDs: []bug.ID{"1"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Query(ctx, Query{IDs: []bug.ID{"2"}})
	assert.True(t, IsTransport(err), "limiter wait fails before the deadline")
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_Version(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/version", r.URL.Path)
		_, _ = w.Write([]byte(`{"version":"20240101.1"}`))
	})

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "20240101.1", v)
}

func TestClient_URLs(t *testing.T) {
	c, err := NewClient(ClientConfig{BaseURL: "https://bugzilla.example.org/"})
	require.NoError(t, err)

	assert.Equal(t, "https://bugzilla.example.org/show_bug.cgi?id=42", c.BugURL("42"))
	tree := c.TreeURL("870032", 4)
	assert.True(t, strings.HasPrefix(tree, "https://bugzilla.example.org/showdependencytree.cgi?"))
	assert.Contains(t, tree, "maxdepth=4")
	assert.Contains(t, tree, "hide_resolved=1")
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "bugzilla"})
	assert.Error(t, err)
}

func TestQuery_Values(t *testing.T) {
	v := Query{IDs: []bug.ID{"1", "2"}, Fields: []string{"id", "status"}}.Values()
	assert.Equal(t, "1,2", v.Get("id"))
	assert.Equal(t, "id,status", v.Get("include_fields"))
}

func TestFields(t *testing.T) {
	assert.Equal(t,
		[]string{"id", "depends_on", "blocks", "whiteboard", "status"},
		Fields("whiteboard", "status", "id", "whiteboard", ""),
	)
}

func TestAliases(t *testing.T) {
	a := DefaultAliases()
	assert.Equal(t, "870032", a.Resolve("australis-meta"))
	assert.Equal(t, "870032", a.Resolve(" australis-meta "))
	assert.Equal(t, "12345", a.Resolve("12345"))
	assert.Equal(t, "some-bmo-alias", a.Resolve("some-bmo-alias"))
	assert.Equal(t, "870032", a.Resolve("Australis-Meta"), "alias names ignore case")

	a["uitour"] = "862998"
	assert.Equal(t, "862998", a.Resolve("UITour"))
	assert.Equal(t, "UITour-bmo", a.Resolve("UITour-bmo"), "unknown roots keep their case")

	a["b"] = "2"
	assert.Equal(t, []string{"australis-meta", "b"}, a.Names())
}
