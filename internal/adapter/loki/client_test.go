package loki

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chiwei-platform/deployd/internal/domain"
)

const streamsBody = `{
	"status": "success",
	"data": {
		"resultType": "streams",
		"result": [
			{
				"stream": {},
				"values": [
					["1700000000000000000", "line1"],
					["1700000002000000000", "line3"]
				]
			},
			{
				"stream": {},
				"values": [
					["1700000001000000000", "line2"]
				]
			}
		]
	}
}`

func TestQueryJobLogs_Success(t *testing.T) {
	var gotQuery, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/query_range" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("query")
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(streamsBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	logs, err := c.QueryJobLogs(context.Background(), "default", "demo-1700000000000", time.Unix(0, 0), time.Now(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := "line1\nline2\nline3\n"
	if logs != expected {
		t.Errorf("got %q, want %q", logs, expected)
	}
	if !strings.Contains(gotQuery, `namespace="default"`) || !strings.Contains(gotQuery, `demo-1700000000000-.*`) {
		t.Errorf("query = %s", gotQuery)
	}
	if gotLimit != "100" {
		t.Errorf("limit = %s, want 100", gotLimit)
	}
}

func TestQueryAppLogs_Query(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		w.Write([]byte(`{"status":"success","data":{"resultType":"streams","result":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.QueryAppLogs(context.Background(), "default", "demo", time.Unix(0, 0), time.Now(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != `{namespace="default", app="demo"}` {
		t.Errorf("query = %s", gotQuery)
	}
}

func TestQueryJobLogs_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream gone"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.QueryJobLogs(context.Background(), "default", "demo-1", time.Unix(0, 0), time.Now(), 10)
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "upstream gone") {
		t.Errorf("error should carry the response body, got %v", err)
	}
}

func TestQueryJobLogs_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(srv.URL)
	_, err := c.QueryJobLogs(context.Background(), "default", "demo-1", time.Unix(0, 0), time.Now(), 10)
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestQueryJobLogs_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"resultType":"streams","result":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	logs, err := c.QueryJobLogs(context.Background(), "default", "demo-1", time.Unix(0, 0), time.Now(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logs != "" {
		t.Errorf("expected empty logs, got %q", logs)
	}
}

func TestQueryJobLogs_FailedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","data":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.QueryJobLogs(context.Background(), "default", "demo-1", time.Unix(0, 0), time.Now(), 10); err == nil {
		t.Fatal("expected error for failed query status")
	}
}

func TestJoinLines_NumericOrder(t *testing.T) {
	streams := []streamValue{
		{Values: [][]string{{"10", "b"}, {"9", "a"}, {"bad", "skipped"}, {"11"}}},
		{Values: [][]string{{"10", "b2"}}},
	}
	if got := joinLines(streams); got != "a\nb\nb2\n" {
		t.Errorf("joinLines() = %q", got)
	}
}
