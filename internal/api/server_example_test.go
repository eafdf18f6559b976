package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/JakeFAU/topicstreams/internal/clock/system"
	"github.com/JakeFAU/topicstreams/internal/fanout"
	"github.com/JakeFAU/topicstreams/internal/registry"
	"github.com/JakeFAU/topicstreams/internal/service"
	"github.com/JakeFAU/topicstreams/internal/storage/memory"
)

// ExampleNewServer adds a topic and reads its (still empty) news page.
func ExampleNewServer() {
	store := memory.NewStore(system.New())
	hub := fanout.NewHub(fanout.Config{})
	defer hub.Close()
	svc := service.New(registry.New(store, nil, nil), store, hub, nil)
	handler := NewServer(svc, Options{}).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/topics", strings.NewReader(`{"name":"Bitcoin"}`)))
	fmt.Println(rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/news/bitcoin?limit=5", nil))
	fmt.Print(rec.Body.String())
	// Output:
	// 201
	// {"entries":[],"limit":5,"offset":0,"topic":"bitcoin","total":0}
}
