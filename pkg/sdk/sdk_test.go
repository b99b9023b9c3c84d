package sdk_test

import (
	"errors"
	"net"
	"testing"

	"github.com/celerix-dev/celerix-prefs/internal/server"
	"github.com/celerix-dev/celerix-prefs/pkg/engine"
	"github.com/celerix-dev/celerix-prefs/pkg/prefs"
	"github.com/celerix-dev/celerix-prefs/pkg/sdk"
)

// serve runs a router for store on a random local port and returns its address.
func serve(t *testing.T, store engine.Backend) string {
	t.Helper()
	router := server.NewRouter(store)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go router.HandleConnection(conn)
		}
	}()
	return listener.Addr().String()
}

func TestClient_Integration(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	addr := serve(t, store)
	t.Setenv("PREFS_DISABLE_TLS", "true")

	client, err := sdk.Connect(addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	f, err := client.Open("ui prefs", engine.ModeShared)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if mode, _ := store.Mode("ui prefs"); mode != engine.ModeShared {
		t.Errorf("Expected shared mode on the daemon, got %v", mode)
	}

	if err := f.Put("k1", `value with "quotes" and spaces`); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	val, err := f.Get("k1")
	if err != nil || val != `value with "quotes" and spaces` {
		t.Errorf("Get failed: %q, %v", val, err)
	}

	if _, err := f.Get("missing"); !errors.Is(err, engine.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	f.Put("k2", "v2")
	all, err := f.All()
	if err != nil || len(all) != 2 || all["k2"] != "v2" {
		t.Errorf("All failed: %v, %v", all, err)
	}

	files, err := client.Files()
	if err != nil || len(files) != 1 || files[0] != "ui prefs" {
		t.Errorf("Files failed: %v, %v", files, err)
	}

	if err := f.Remove("k1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	all, _ = f.All()
	if len(all) != 0 {
		t.Errorf("Expected empty file after Clear, got %v", all)
	}
}

func TestClient_BacksPrefs(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	addr := serve(t, store)
	t.Setenv("PREFS_DISABLE_TLS", "true")

	client, err := sdk.Connect(addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	p, err := prefs.New(client, prefs.Config{Password: "pass", Salt: []byte("salt")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Put("k", "v", "")
	if got := p.Get("k", ""); got != "v" {
		t.Errorf("Expected v, got %q", got)
	}

	// The daemon only ever sees the obfuscated form.
	raw, _ := store.Open("default", engine.ModePrivate)
	all, _ := raw.All()
	if _, ok := all["k"]; ok || len(all) != 1 {
		t.Errorf("Expected one obfuscated entry, got %v", all)
	}
	if all["1UGza4m+x93UK3m/MFtL9Q=="] == "" {
		t.Errorf("Expected obfuscated key, got %v", all)
	}
}

func TestClient_RetryLogic(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	router := server.NewRouter(store)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := listener.Addr().String()

	go func() {
		conn, _ := listener.Accept()
		if conn != nil {
			go router.HandleConnection(conn)
		}
	}()

	t.Setenv("PREFS_DISABLE_TLS", "true")
	client, err := sdk.Connect(addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	// Make sure the connection was accepted before closing the listener
	if err := client.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	listener.Close()

	// The existing connection still works.
	if _, err := client.Open("default", engine.ModePrivate); err != nil {
		t.Errorf("Open on the accepted connection failed: %v", err)
	}

	// Dropping it forces reconnects, which fail; we just want no panic.
	client.Close()
	if _, err := client.Files(); err == nil {
		t.Error("Expected an error once the daemon is unreachable")
	}
}

func TestNew_Embedded(t *testing.T) {
	t.Setenv("PREFS_STORE_ADDR", "")
	dir := t.TempDir()

	b, err := sdk.New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ms, ok := b.(*engine.MemStore)
	if !ok {
		t.Fatalf("Expected an embedded MemStore, got %T", b)
	}
	f, _ := ms.Open("default", engine.ModePrivate)
	f.Put("k", "v")
	ms.Wait()

	again, err := sdk.Embedded(dir)
	if err != nil {
		t.Fatalf("Embedded failed: %v", err)
	}
	f, _ = again.Open("default", engine.ModePrivate)
	if v, err := f.Get("k"); err != nil || v != "v" {
		t.Errorf("Expected persisted value, got %q, %v", v, err)
	}
}

func TestNew_FallsBackWhenRemoteIsDown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	t.Setenv("PREFS_STORE_ADDR", addr)
	t.Setenv("PREFS_DISABLE_TLS", "true")

	b, err := sdk.New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := b.(*engine.MemStore); !ok {
		t.Errorf("Expected embedded fallback, got %T", b)
	}
}
