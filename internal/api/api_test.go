package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tertt-dev/grokgates/internal/store"
	"github.com/tertt-dev/grokgates/internal/urge"
)

type stubConvos struct {
	ended bool
	err   error
	conv  store.Conversation
}

func (s *stubConvos) AddMessage(context.Context, string, string) (bool, error) {
	return s.ended, s.err
}
func (s *stubConvos) Current(context.Context) (store.Conversation, error)  { return s.conv, s.err }
func (s *stubConvos) StartNew(context.Context) (store.Conversation, error) { return s.conv, s.err }

func newTestRouter(t *testing.T, convos Conversations) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	st := store.NewStore(client, logger)
	engine := urge.NewEngine(context.Background(), client, logger)

	router := gin.New()
	NewHandlers(st, engine, convos, logger).Register(router)
	return router, st
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetBoard(t *testing.T) {
	router, st := newTestRouter(t, &stubConvos{})
	if _, err := st.WriteBoard(context.Background(), "OBSERVER", "the feed hums tonight"); err != nil {
		t.Fatalf("seed board: %v", err)
	}

	w := doRequest(router, http.MethodGet, "/api/board", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Entries []store.BoardEntry `json:"entries"`
		Count   int                `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Entries[0].Content != "the feed hums tonight" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestPostMessage(t *testing.T) {
	router, _ := newTestRouter(t, &stubConvos{ended: true})

	w := doRequest(router, http.MethodPost, "/api/messages", `{"agent": "EGO", "content": "hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Ended bool `json:"ended"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || !body.Ended {
		t.Fatalf("unexpected body: %s (err %v)", w.Body.String(), err)
	}
}

func TestPostMessageValidation(t *testing.T) {
	router, _ := newTestRouter(t, &stubConvos{})
	if w := doRequest(router, http.MethodPost, "/api/messages", `{"agent": "EGO"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing content should 400, got %d", w.Code)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	router, _ := newTestRouter(t, &stubConvos{})
	if w := doRequest(router, http.MethodGet, "/api/conversations/CONV_nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown conversation should 404, got %d", w.Code)
	}
}

func TestGetConversationWithMessages(t *testing.T) {
	router, st := newTestRouter(t, &stubConvos{})
	ctx := context.Background()

	conv := store.Conversation{ID: "CONV_x", Status: "active", SoftLimitStart: 30, EscalateStart: 50, HardLimit: 80, CheckInterval: 5}
	if err := st.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.AppendThreadMessage(ctx, "CONV_x", store.ThreadMessage{Agent: "EGO", Content: "first"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	w := doRequest(router, http.MethodGet, "/api/conversations/CONV_x", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Conversation store.Conversation    `json:"conversation"`
		Messages     []store.ThreadMessage `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Conversation.ID != "CONV_x" || len(body.Messages) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetUrge(t *testing.T) {
	router, _ := newTestRouter(t, &stubConvos{})
	w := doRequest(router, http.MethodGet, "/api/urge", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body urge.Metrics
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.FrustrationLevel != "Satisfied" {
		t.Fatalf("fresh state should be Satisfied, got %q", body.FrustrationLevel)
	}
}

func TestCurrentConversationNotFound(t *testing.T) {
	router, _ := newTestRouter(t, &stubConvos{err: store.ErrNoThread})
	if w := doRequest(router, http.MethodGet, "/api/conversations/current", ""); w.Code != http.StatusNotFound {
		t.Fatalf("no active thread should 404, got %d", w.Code)
	}
}
