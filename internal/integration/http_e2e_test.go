//go:build integration || !unit

package integration

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	server "guest_reviews/internal/adapters/http_server"
	redisad "guest_reviews/internal/adapters/redis"
	"guest_reviews/internal/app"
	"guest_reviews/internal/domain"
	mysqlrepo "guest_reviews/internal/storage/mysql"
)

const batch = `{"status":"success","result":[
 {"id":101,"type":"guest-to-host","status":"published","rating":4.5,"publicReview":"Great stay",
  "reviewCategory":[{"category":"cleanliness","rating":5},{"category":"respect_house_rules","rating":4}],
  "submittedAt":"2024-01-10 10:00:00","guestName":"Ana","listingName":"Cozy Downtown Apartment"},
 {"id":102,"type":"guest-to-host","status":"published","rating":null,"publicReview":"Noisy at night",
  "reviewCategory":[{"category":"cleanliness","rating":5},{"category":"respect_house_rules","rating":5}],
  "submittedAt":"2024-02-10 10:00:00","guestName":"Bob","listingName":"Cozy Downtown Apartment"},
 {"id":103,"type":"guest-to-host","status":"published","rating":3,"publicReview":"ok",
  "reviewCategory":[],
  "submittedAt":"2024-02-31 10:00:00","guestName":"Cy","listingName":"Beach House"}
]}`

// ---------- helpers ----------
func startMySQL(t *testing.T) (*sql.DB, string) {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("dockertest: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not reachable: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=reviews",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/reviews?parseTime=true&loc=UTC&charset=utf8mb4",
		resource.GetPort("3306/tcp"))
	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, dsn
}

// newServer wires the real router over MySQL, with Redis (miniredis) as the
// cache and, when redisApprovals is set, as the approval store.
func newServer(t *testing.T, db *sql.DB, redisApprovals bool) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redisad.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rdb.Close() })

	repo := mysqlrepo.New(db)
	var approvals domain.ApprovalStore = repo
	if redisApprovals {
		approvals = redisad.NewApprovalStore(rdb)
	}
	q := app.NewQueryService(repo, approvals, redisad.NewCache(rdb), time.Minute, 3*time.Second)
	srv := server.New()
	srv.MountHandlers(&server.Handlers{
		Q:            q,
		Ingest:       app.NewIngestionService(nil, repo, q),
		Approvals:    app.NewApprovalService(repo, approvals, repo, q),
		DefaultActor: "manager",
	})
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()
	if out != nil && res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return res.StatusCode
}

// ---------- the test ----------
func TestHTTP_EndToEnd_ReviewLifecycle(t *testing.T) {
	db, dsn := startMySQL(t)
	if err := mysqlrepo.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, variant := range []struct {
		name           string
		redisApprovals bool
	}{
		{"mysql approvals", false},
		{"redis approvals", true},
	} {
		t.Run(variant.name, func(t *testing.T) {
			if _, err := db.Exec("DELETE FROM approval_audit"); err != nil {
				t.Fatal(err)
			}
			if _, err := db.Exec("DELETE FROM reviews"); err != nil {
				t.Fatal(err)
			}
			ts := newServer(t, db, variant.redisApprovals)

			// 1) ingest: one record has an impossible date and is skipped
			var ing app.IngestResult
			if code := call(t, http.MethodPost, ts.URL+"/v1/ingest/hostaway", batch, &ing); code != http.StatusOK {
				t.Fatalf("ingest status %d", code)
			}
			if ing.Stored != 2 || len(ing.Failures) != 1 || ing.Failures[0].SourceID != 103 {
				t.Fatalf("ingest result: %+v", ing)
			}
			cozy := ing.Listings[0]
			// 4.5 direct; 5.0 from categories
			if cozy.AvgOverallRating == nil || *cozy.AvgOverallRating != 4.75 {
				t.Fatalf("avg: %+v", cozy.AvgOverallRating)
			}
			if cozy.WorstCategory == nil || cozy.WorstCategory.Key != "respect_house_rules" {
				t.Fatalf("worst: %+v", cozy.WorstCategory)
			}

			// 2) warm the cache, then approve; the approved view must change
			var rv struct {
				Reviews []domain.CanonicalReview `json:"reviews"`
			}
			call(t, http.MethodGet, ts.URL+"/v1/listings/cozy-downtown-apartment/reviews?approved=true", "", &rv)
			if len(rv.Reviews) != 0 {
				t.Fatalf("nothing approved yet: %+v", rv.Reviews)
			}
			approve := func(ok bool) {
				body := fmt.Sprintf(`{"reviewId":"hostaway:101","listingId":"cozy-downtown-apartment","isApproved":%t}`, ok)
				var conf app.ApprovalConfirmation
				if code := call(t, http.MethodPost, ts.URL+"/v1/approvals", body, &conf); code != http.StatusOK {
					t.Fatalf("approve status %d", code)
				}
				if !conf.AuditRecorded {
					t.Fatalf("audit not recorded: %+v", conf)
				}
			}
			approve(true)
			call(t, http.MethodGet, ts.URL+"/v1/listings/cozy-downtown-apartment/reviews?approved=true", "", &rv)
			if len(rv.Reviews) != 1 || rv.Reviews[0].ReviewID != "hostaway:101" {
				t.Fatalf("approved view: %+v", rv.Reviews)
			}
			if len(rv.Reviews[0].Categories) != 2 || rv.Reviews[0].Categories[1].Label != "Respect house rules" {
				t.Fatalf("categories: %+v", rv.Reviews[0].Categories)
			}

			var pub struct {
				Listings []domain.PublicListing `json:"listings"`
			}
			call(t, http.MethodGet, ts.URL+"/v1/public/listings", "", &pub)
			if len(pub.Listings) != 1 || pub.Listings[0].ApprovedCount != 1 {
				t.Fatalf("public: %+v", pub.Listings)
			}

			// 3) reject; audit keeps both decisions in order
			approve(false)
			var hist struct {
				History []domain.AuditRecord `json:"history"`
			}
			call(t, http.MethodGet, ts.URL+"/v1/reviews/hostaway:101/audit", "", &hist)
			if len(hist.History) != 2 || !hist.History[0].Decision || hist.History[1].Decision {
				t.Fatalf("audit: %+v", hist.History)
			}

			call(t, http.MethodGet, ts.URL+"/v1/public/listings", "", &pub)
			if len(pub.Listings) != 0 {
				t.Fatalf("rejected listing still public: %+v", pub.Listings)
			}

			// 4) client errors
			if code := call(t, http.MethodPost, ts.URL+"/v1/approvals",
				`{"reviewId":"hostaway:101","listingId":"beach-house","isApproved":true}`, nil); code != http.StatusConflict {
				t.Fatalf("mismatch status %d", code)
			}
			if code := call(t, http.MethodPost, ts.URL+"/v1/approvals",
				`{"reviewId":"hostaway:999","listingId":"beach-house","isApproved":true}`, nil); code != http.StatusNotFound {
				t.Fatalf("not found status %d", code)
			}
		})
	}
}
