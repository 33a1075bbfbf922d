package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/config"
)

var testMeta = Metadata{
	URL:       "https://shop.test/p/1",
	DataType:  "product",
	Method:    "static",
	FetchedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

func TestMemory(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()

	id1, err := m.Store(ctx, map[string]any{"title": "a"}, StatusSuccess, testMeta)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	e, ok := m.Get(id1)
	require.True(t, ok)
	assert.Equal(t, "a", e.Record["title"])
	assert.Equal(t, testMeta.URL, e.Metadata.URL)

	id2, _ := m.Store(ctx, map[string]any{"title": "b"}, StatusSuccess, testMeta)
	id3, _ := m.Store(ctx, nil, StatusFailed, testMeta)
	assert.NotEqual(t, id2, id3)

	_, ok = m.Get(id1)
	assert.False(t, ok, "oldest entry dropped past capacity")
	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, id2, list[0].ID)
	assert.Equal(t, StatusFailed, list[1].Status)
}

func TestWebhook_SignsAndDelivers(t *testing.T) {
	type delivery struct {
		body []byte
		sig  string
	}
	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- delivery{body: b, sig: r.Header.Get(SignatureHeader)}
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s3cret")
	id, err := wh.Store(context.Background(), map[string]any{"price": 19.99}, StatusSuccess, testMeta)
	require.NoError(t, err)
	require.NoError(t, wh.Close())

	select {
	case d := <-got:
		assert.Equal(t, "sha256="+Sign("s3cret", d.body), d.sig)
		var ev Event
		require.NoError(t, json.Unmarshal(d.body, &ev))
		assert.Equal(t, id, ev.ID)
		assert.Equal(t, EventRecordStored, ev.Type)
		assert.Equal(t, 19.99, ev.Data["price"])
		assert.Equal(t, testMeta.URL, ev.Metadata.URL)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestWebhook_Retries(t *testing.T) {
	calls := make(chan int, 4)
	n := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		calls <- n
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "")
	wh.Delays = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}
	_, err := wh.Store(context.Background(), nil, StatusFailed, testMeta)
	require.NoError(t, err)
	require.NoError(t, wh.Close())
	assert.Len(t, calls, 3, "stops after the first success")
}

func TestSQL_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	s, err := NewSQL(db, "sqlite3", "results")
	require.NoError(t, err)

	id, err := s.Store(context.Background(), map[string]any{"title": "Widget"}, StatusSuccess, testMeta)
	require.NoError(t, err)

	var url, status, data string
	row := db.QueryRow(`SELECT url, status, data FROM results WHERE id = ?`, id)
	require.NoError(t, row.Scan(&url, &status, &data))
	assert.Equal(t, testMeta.URL, url)
	assert.Equal(t, StatusSuccess, status)
	assert.JSONEq(t, `{"title":"Widget"}`, data)
}

func TestSQL_RejectsTableName(t *testing.T) {
	_, err := NewSQL(nil, "sqlite3", "results; DROP TABLE x")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	s, err := New(config.SinkConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(config.SinkConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(config.SinkConfig{Driver: "webhook", WebhookURL: "http://127.0.0.1:1/"})
	require.NoError(t, err)
	assert.IsType(t, &Webhook{}, s)

	_, err = New(config.SinkConfig{Driver: "kafka"})
	assert.Error(t, err)
}
