package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/skillloop/internal/http"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

// A freshly learned skill can be fetched at once, but promotion is refused
// until the skill has a track record.
func ExampleServer_Handler() {
	dir, err := os.MkdirTemp("", "skillloop-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	store, err := skills.NewFileStore(filepath.Join(dir, "skills"), filepath.Join(dir, "feedback"))
	if err != nil {
		panic(err)
	}
	defer store.Close()

	err = store.SaveSkill(context.Background(), &skills.LearnedSkill{
		SkillID:      "learned-0a1b2c3d4e5f",
		Name:         "learned-backend-retry",
		Domain:       "backend",
		Triggers:     []string{"retry", "backoff"},
		Patterns:     []string{"[Iter 2] Added jittered backoff"},
		QualityScore: 92,
		Iterations:   2,
		LearnedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		panic(err)
	}

	srv, err := httpserver.NewServer(store, zap.NewNop(), &httpserver.Config{Host: "127.0.0.1", Port: 0})
	if err != nil {
		panic(err)
	}

	get := httptest.NewRecorder()
	srv.Handler().ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/v1/skills/learned-0a1b2c3d4e5f", nil))
	var sk skills.LearnedSkill
	_ = json.Unmarshal(get.Body.Bytes(), &sk)
	fmt.Println(get.Code, sk.Name)

	promote := httptest.NewRecorder()
	srv.Handler().ServeHTTP(promote, httptest.NewRequest(http.MethodPost, "/api/v1/skills/learned-0a1b2c3d4e5f/promote", nil))
	var resp httpserver.PromoteResponse
	_ = json.Unmarshal(promote.Body.Bytes(), &resp)
	fmt.Println(promote.Code, resp.Promoted)
	// Output:
	// 200 learned-backend-retry
	// 409 false
}
