package main

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	natssrv "github.com/nats-io/nats-server/v2/server"

	"github.com/fluxorio/webpool/pkg/config"
	"github.com/fluxorio/webpool/pkg/core"
	"github.com/fluxorio/webpool/pkg/events"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()
	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestConfigPath(t *testing.T) {
	t.Setenv("WEBPOOL_CONFIG", "/etc/webpool.yaml")
	if got := configPath([]string{"local.yaml"}); got != "local.yaml" {
		t.Errorf("configPath(arg) = %q", got)
	}
	if got := configPath(nil); got != "/etc/webpool.yaml" {
		t.Errorf("configPath(env) = %q", got)
	}
}

func TestApp_ServesAndShutsDown(t *testing.T) {
	ns := runTestNATSServer(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>from disk</h1>"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Workers = 2
	cfg.Static.Dir = dir
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Events.NATSURL = ns.ClientURL()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer nc.Close()
	sub, err := nc.SubscribeSync(cfg.Events.Subject)
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	a, err := newApp(cfg, core.NopLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- a.acceptor.Serve() }()

	c, err := net.DialTimeout("tcp", a.acceptor.ListeningAddr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.WriteString(c, "GET / HTTP/1.1\r\n\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	c.Close()

	if resp.StatusCode != http.StatusOK || string(body) != "<h1>from disk</h1>" {
		t.Errorf("GET / = %d %q", resp.StatusCode, body)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	var ev events.AccessEvent
	if err := core.JSONDecode(msg.Data, &ev); err != nil {
		t.Fatalf("JSONDecode: %v", err)
	}
	if ev.Path != "/" || ev.Status != http.StatusOK {
		t.Errorf("access event = %+v", ev)
	}

	mresp, err := http.Get("http://" + a.metrics.Addr() + cfg.Metrics.Path)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	mbody, _ := io.ReadAll(mresp.Body)
	mresp.Body.Close()
	if want := `webpool_requests_total{method="GET",service="webpool",status="2xx"} 1`; !strings.Contains(string(mbody), want) {
		t.Errorf("metrics output missing %q", want)
	}

	if err := a.acceptor.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	a.shutdown()
	if !a.pool.IsClosed() {
		t.Error("pool still open after shutdown")
	}
	if a.pool.LiveWorkers() != 0 {
		t.Errorf("LiveWorkers() = %d after shutdown", a.pool.LiveWorkers())
	}
}

func TestNewApp_BadStaticRoute(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Static.Dir = t.TempDir()
	cfg.Static.Routes = map[string]string{"/gone": "gone.html"}

	if _, err := newApp(cfg, core.NopLogger()); err == nil {
		t.Fatal("newApp with a missing route file should fail")
	}
}
