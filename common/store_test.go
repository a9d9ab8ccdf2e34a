package common_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/guarzo/crisiscircle/common"
)

func exerciseStore(t *testing.T, store common.KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	// 1) SetMany + Get
	if err := store.SetMany(ctx, map[string]string{"token": "a", "refreshToken": "r"}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}
	val, found, err := store.Get(ctx, "token")
	if err != nil || !found || val != "a" {
		t.Errorf("expected token=a, got %q found=%v err=%v", val, found, err)
	}

	// 2) Delete both
	if err := store.Delete(ctx, "token", "refreshToken"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, k := range []string{"token", "refreshToken"} {
		if _, found, _ := store.Get(ctx, k); found {
			t.Errorf("expected %s to be deleted, but still found", k)
		}
	}

	// 3) Deleting missing keys is not an error
	if err := store.Delete(ctx, "nope"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, common.NewMemoryStore())
}

func TestMemoryStore_Watch(t *testing.T) {
	store := common.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.SetMany(ctx, map[string]string{"token": "a"})
	_ = store.Delete(ctx, "token")

	first := <-changes
	if first.Key != "token" || first.Removed || first.Value != "a" {
		t.Errorf("unexpected first change: %+v", first)
	}
	second := <-changes
	if second.Key != "token" || !second.Removed {
		t.Errorf("unexpected second change: %+v", second)
	}

	cancel()
	for range changes {
	}
}

func TestFileStore_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	exerciseStore(t, common.NewFileStore(path, ""))
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "creds.json")
	ctx := context.Background()

	first := common.NewFileStore(path, "")
	if err := first.SetMany(ctx, map[string]string{"token": "persisted"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	second := common.NewFileStore(path, "")
	val, found, err := second.Get(ctx, "token")
	if err != nil || !found || val != "persisted" {
		t.Errorf("expected persisted token, got %q found=%v err=%v", val, found, err)
	}
}

func TestFileStore_Sealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	ctx := context.Background()

	store := common.NewFileStore(path, "correct horse")
	exerciseStore(t, store)

	if err := store.SetMany(ctx, map[string]string{"token": "secret-access"}); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "secret-access") {
		t.Error("sealed file must not contain the plaintext token")
	}

	reopened := common.NewFileStore(path, "correct horse")
	val, found, err := reopened.Get(ctx, "token")
	if err != nil || !found || val != "secret-access" {
		t.Errorf("expected secret-access, got %q found=%v err=%v", val, found, err)
	}

	wrong := common.NewFileStore(path, "battery staple")
	if _, _, err := wrong.Get(ctx, "token"); !errors.Is(err, common.ErrSealedStore) {
		t.Errorf("expected ErrSealedStore, got %v", err)
	}

	noPass := common.NewFileStore(path, "")
	if _, _, err := noPass.Get(ctx, "token"); !errors.Is(err, common.ErrSealedStore) {
		t.Errorf("expected ErrSealedStore without passphrase, got %v", err)
	}
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := common.NewRedisStore(rdb, "")
	exerciseStore(t, store)

	_ = store.SetMany(context.Background(), map[string]string{"token": "x"})
	got, err := mr.Get(common.DefaultRedisPrefix + "token")
	if err != nil || got != "x" {
		t.Errorf("expected prefixed key in redis, got %q err=%v", got, err)
	}
}

func TestRedisStore_WatchSeesOtherHandle(t *testing.T) {
	_, rdb := newMiniRedis(t)
	watcher := common.NewRedisStore(rdb, "test:")
	writer := common.NewRedisStore(rdb, "test:")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes, err := watcher.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := writer.SetMany(ctx, map[string]string{"token": "a"}); err != nil {
		t.Fatal(err)
	}
	if err := writer.Delete(ctx, "token"); err != nil {
		t.Fatal(err)
	}

	var removed bool
	for !removed {
		select {
		case c, ok := <-changes:
			if !ok {
				t.Fatal("change feed closed early")
			}
			if c.Key == "token" && c.Removed {
				removed = true
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for removal")
		}
	}
}
