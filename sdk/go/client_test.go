package ckdtsdk

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"ckdt/internal/app"
	"ckdt/internal/config"
	"ckdt/internal/server"
	"ckdt/internal/session"
)

func newTestAPI(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.Admin = config.AdminConfig{Name: "Admin", Email: "admin@detran.gov.br", Password: "Segura@123"}
	conn, e, err := app.Open(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	quiet := log.New(io.Discard, "", 0)
	if err := app.Bootstrap(context.Background(), e, cfg, quiet); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine:   e,
		Sessions: session.NewStore(e, session.Config{TTL: time.Hour, Logger: quiet}),
		Auth:     server.AuthConfig{JWTSecret: "sdk-test-secret-0123", Logger: quiet},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return "http://" + ln.Addr().String()
}

func TestClientWalksAService(t *testing.T) {
	ctx := context.Background()
	c := New(newTestAPI(t))

	list, err := c.Services(ctx, "Veículo", "licenciamento")
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one match, got %+v", list)
	}
	svc, err := c.Service(ctx, list[0].ID)
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	sess, err := c.OpenSession(ctx, svc.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, it := range svc.Sections[0].Items {
		if it.IsOptional {
			continue
		}
		if sess, err = c.Toggle(ctx, sess.ID, svc.Sections[0].ID, it.ID); err != nil {
			t.Fatalf("toggle: %v", err)
		}
	}
	if !sess.Summary.Complete || sess.Summary.Progress.Percentage != 100 {
		t.Fatalf("required items checked but summary is %+v", sess.Summary)
	}
	if sess, err = c.Reset(ctx, sess.ID); err != nil || sess.Summary.Items.Completed != 0 {
		t.Fatalf("reset: %v %+v", err, sess.Summary)
	}
	if err := c.Leave(ctx, sess.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	_, err = c.Toggle(ctx, sess.ID, "x", "y")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "session_not_found" {
		t.Fatalf("expected session_not_found, got %v", err)
	}
}

func TestClientEventsNeedLogin(t *testing.T) {
	ctx := context.Background()
	c := New(newTestAPI(t))
	_, err := c.Events(ctx, 5)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if err := c.Login(ctx, "admin@detran.gov.br", "Segura@123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	page, err := c.EventsPage(ctx, 2, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected page %+v", page)
	}
}
