package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/pribylovaa/biocraft-studio/internal/client/localstore"
)

// keyCookies — ключ metadata с cookie сервера между запусками CLI.
const keyCookies = "cookies"

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// loadJar восстанавливает cookie для base из локального хранилища.
func loadJar(ctx context.Context, store *localstore.Store, base *url.URL) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	raw, err := store.Get(ctx, keyCookies)
	if errors.Is(err, localstore.ErrNotFound) {
		return jar, nil
	}
	if err != nil {
		return nil, err
	}

	var list []storedCookie
	if err := json.Unmarshal(raw, &list); err != nil {
		// битая запись — начинаем с пустого jar.
		return jar, nil
	}

	cookies := make([]*http.Cookie, 0, len(list))
	for _, c := range list {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	jar.SetCookies(base, cookies)

	return jar, nil
}

// saveJar сохраняет текущие cookie для base; пустой jar удаляет запись.
func saveJar(ctx context.Context, store *localstore.Store, jar http.CookieJar, base *url.URL) error {
	cookies := jar.Cookies(base)
	if len(cookies) == 0 {
		return store.Delete(ctx, keyCookies)
	}

	list := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		list = append(list, storedCookie{Name: c.Name, Value: c.Value})
	}

	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	return store.Set(ctx, keyCookies, raw)
}
