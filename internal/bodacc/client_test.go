package bodacc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "bodaccwatch/pkg/logx"
)

func TestBuildURL(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop())
	got := c.BuildURL("ACME SAS", 10)
	want := "https://www.bodacc.fr/api/records/1.0/search/?disjunctive.typeavis=true&disjunctive.familleavis=true" +
		"&disjunctive.publicationavis=true&disjunctive.region_min=true&disjunctive.nom_dep_min=true" +
		"&disjunctive.numerodepartement=true&sort=dateparution&commercant_search=ACME%20SAS&rows=10" +
		"&dataset=annonces-commerciales&q=%23search(commercant%2C%22ACME%20SAS%22)" +
		"&timezone=Europe%2FBerlin&lang=fr"
	if got != want {
		t.Fatalf("BuildURL\n got: %s\nwant: %s", got, want)
	}
}

func TestEncodeURIComponent(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"abc-_.!~*'()", "abc-_.!~*'()"},
		{"a b&c=d", "a%20b%26c%3Dd"},
		{"Société", "Soci%C3%A9t%C3%A9"},
		{"L'Oréal+", "L'Or%C3%A9al%2B"},
	}
	for _, tt := range tests {
		if got := encodeURIComponent(tt.in); got != tt.want {
			t.Fatalf("encodeURIComponent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFetchDecodesRecords(t *testing.T) {
	t.Parallel()
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("commercant_search")
		_, _ = w.Write([]byte(`{"nhits": 2, "records": [
			{"recordid": "r1", "datasetid": "annonces-commerciales", "fields": {"dateparution": "2024-01-05", "numeroannonce": 12}},
			{"recordid": "r2", "datasetid": "annonces-commerciales", "fields": {"dateparution": "2024-01-04", "numeroannonce": "7"}},
			"garbage"
		]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	recs, err := c.Fetch(context.Background(), "ACME SAS", 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if query != "ACME SAS" {
		t.Fatalf("commercant_search = %q", query)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].ID != "r1" || recs[0].PublicationDate != "2024-01-05" || recs[0].SequenceNumber != 12 {
		t.Fatalf("rec0 = %+v", recs[0])
	}
	if recs[1].SequenceNumber != 7 {
		t.Fatalf("numeric string not accepted: %+v", recs[1])
	}
}

func TestFetchMissingRecordsIsEmpty(t *testing.T) {
	t.Parallel()
	for _, body := range []string{`{}`, `{"records": null}`, `{"records": {"a": 1}}`} {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		c := New(Config{BaseURL: srv.URL}, logx.Nop())
		recs, err := c.Fetch(context.Background(), "ACME", 10)
		srv.Close()
		if err != nil {
			t.Fatalf("%s: Fetch: %v", body, err)
		}
		if recs == nil || len(recs) != 0 {
			t.Fatalf("%s: recs = %v, want empty", body, recs)
		}
	}
}

func TestFetchErrorsAreSourceUnavailable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusBadGateway, body: strings.Repeat("e", 1000)},
		{name: "not json", status: http.StatusOK, body: "<html>"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}, logx.Nop()).Fetch(context.Background(), "ACME", 10)
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("err = %v, want ErrSourceUnavailable", err)
			}
			var se *SourceUnavailableError
			if !errors.As(err, &se) {
				t.Fatalf("err type = %T", err)
			}
			if tt.status != http.StatusOK && (se.Status != tt.status || len(se.Body) != bodyExcerptLimit) {
				t.Fatalf("status=%d body len=%d", se.Status, len(se.Body))
			}
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url}, logx.Nop()).Fetch(context.Background(), "ACME", 10)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestRecordAccessorsAreTotal(t *testing.T) {
	t.Parallel()
	var r Record
	if err := json.Unmarshal([]byte(`{"recordid": "x", "fields": {
		"n": 3.0, "s": "abc", "b": true, "obj": {"k": "v"},
		"txt": "{\"k\": \"v\"}", "bad": "{nope", "num": "12.9"
	}}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.String("n") != "3" || r.String("s") != "abc" || r.String("b") != "true" || r.String("obj") != "" || r.String("missing") != "" {
		t.Fatal("String accessor")
	}
	if r.Int("n") != 3 || r.Int("num") != 12 || r.Int("s") != 0 {
		t.Fatal("Int accessor")
	}
	if r.Doc("obj")["k"] != "v" || r.Doc("txt")["k"] != "v" {
		t.Fatal("Doc accessor")
	}
	if r.Doc("bad") != nil || r.Doc("missing") != nil || r.Doc("n") != nil {
		t.Fatal("Doc should degrade to nil")
	}
	if r.PublicationDate != "" || r.SequenceNumber != 0 {
		t.Fatalf("fixed fields = %+v", r)
	}
}
