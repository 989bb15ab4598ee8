//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	defaultBaseURL = "http://localhost:8080/api/v1"
	candidateID    = "e2e-candidate"
	adminID        = "e2e-admin"
)

var (
	baseURL        string
	dbURL          string
	adminToken     string
	candidateToken string
	assignmentID   uuid.UUID
	sessionID      uuid.UUID
	questionIDs    []uuid.UUID
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	cfg := config.Load()
	dbURL = cfg.DatabaseURL

	if err := resetDatabase(); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}
	if err := issueTokens(cfg); err != nil {
		fmt.Printf("Token setup failed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func resetDatabase() error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer conn.Close(ctx)

	// Children first.
	tables := []string{"session_violations", "results", "conversation_turns", "answers", "sessions", "questions", "assignments"}
	for _, table := range tables {
		if _, err := conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("cleanup %s: %w", table, err)
		}
	}
	return nil
}

// issueTokens signs tokens with the server's secret and registers the
// candidate token in the server's Redis.
func issueTokens(cfg *config.Config) error {
	ctx := context.Background()
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	auth := service.NewAuthService(cfg, rdb)
	if adminToken, err = auth.IssueToken(ctx, adminID, service.RoleAdmin); err != nil {
		return err
	}
	if candidateToken, err = auth.IssueToken(ctx, candidateID, service.RoleCandidate); err != nil {
		return err
	}
	return nil
}

func TestE2EFlow(t *testing.T) {
	// Step 1: Create a two-question test (Admin)
	t.Run("CreateAssignment", func(t *testing.T) {
		correct := &model.AnswerPayload{Kind: model.AnswerKindChoice, Value: json.RawMessage("1")}
		q := model.CreateQuestionRequest{
			Type:    "multiple_choice",
			Prompt:  "What is 2+2?",
			Options: []string{"3", "4", "5"},
			Points:  10,
			Correct: correct,
		}
		reqBody := model.CreateAssignmentRequest{
			Kind:            "test",
			Title:           "E2E Test",
			DurationMinutes: 30,
			PassingScore:    50,
			MaxRetakes:      1,
			MaxViolations:   5,
			Questions:       []model.CreateQuestionRequest{q, q},
		}
		resp, err := post("/admin/assignments", reqBody, adminToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}

		var body struct {
			Data model.Assignment `json:"data"`
		}
		decodeJSON(t, resp, &body)
		assignmentID = body.Data.ID
		t.Logf("Assignment created: %s", assignmentID)
	})

	// Step 2: Candidate cannot author assignments
	t.Run("VerifyPermissionFails", func(t *testing.T) {
		resp, err := post("/admin/assignments", nil, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	// Step 3: Create and start the first attempt
	t.Run("StartSession", func(t *testing.T) {
		resp, err := post(fmt.Sprintf("/assignments/%s/attempts", assignmentID), nil, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var created struct {
			Data model.Session `json:"data"`
		}
		decodeJSON(t, resp, &created)
		sessionID = created.Data.ID

		resp2, err := post(fmt.Sprintf("/sessions/%s/start", sessionID), map[string]string{"camera": "granted"}, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp2.StatusCode, readBody(resp2))
		}
	})

	// Step 4: Read the paper
	t.Run("GetState", func(t *testing.T) {
		resp, err := get(fmt.Sprintf("/sessions/%s/state", sessionID), candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data service.SessionState `json:"data"`
		}
		decodeJSON(t, resp, &body)
		for _, q := range body.Data.Questions {
			questionIDs = append(questionIDs, q.ID)
		}
		if len(questionIDs) != 2 {
			t.Fatalf("expected 2 questions, got %d", len(questionIDs))
		}
	})

	// Step 5: Report a violation; the worker persists it asynchronously
	t.Run("ReportViolation", func(t *testing.T) {
		resp, err := post(fmt.Sprintf("/sessions/%s/violations", sessionID), map[string]string{"kind": "tab_switch"}, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data model.ViolationOutcome `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if !body.Data.Counted || body.Data.Count != 1 {
			t.Fatalf("unexpected outcome: %+v", body.Data)
		}

		waitForViolations(t, sessionID, 1)
	})

	// Step 6: Answer one question and submit
	t.Run("SubmitAnswers", func(t *testing.T) {
		answer := map[string]any{
			"question_id": questionIDs[0],
			"answer":      map[string]any{"kind": "choice", "value": 1},
		}
		resp, err := post(fmt.Sprintf("/sessions/%s/answers", sessionID), answer, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("answer status %d", resp.StatusCode)
		}

		resp, err = post(fmt.Sprintf("/sessions/%s/submit", sessionID), nil, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data service.SubmitOutcome `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.Result == nil || body.Data.Result.OverallScore != 50 || !body.Data.Result.Passed {
			t.Fatalf("unexpected result: %+v", body.Data.Result)
		}
		if body.Data.Result.ViolationsAtSubmission != 1 {
			t.Errorf("expected 1 violation at submission, got %d", body.Data.Result.ViolationsAtSubmission)
		}
	})

	// Step 7: Retake and check the best attempt
	t.Run("RetakeAndBest", func(t *testing.T) {
		resp, err := post(fmt.Sprintf("/sessions/%s/retake", sessionID), nil, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}

		resp2, err := get(fmt.Sprintf("/assignments/%s/best", assignmentID), candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp2.StatusCode, readBody(resp2))
		}
	})
}

func waitForViolations(t *testing.T, id uuid.UUID, want int) {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	defer conn.Close(ctx)

	deadline := time.Now().Add(10 * time.Second)
	for {
		var n int
		if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM session_violations WHERE session_id = $1`, id).Scan(&n); err != nil {
			t.Fatalf("count violations: %v", err)
		}
		if n >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d persisted violations, found %d", want, n)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// Helpers

func post(path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest("POST", baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func get(path string, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}
