package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"media-gallery/internal/hub"
	"media-gallery/internal/watcher"
)

func main() {
	url := flag.String("url", envOr("GALLERY_URL", "ws://localhost:8080/ws"), "websocket endpoint of the gallery server")
	user := flag.String("user", "", "user id whose favorites are shown")
	retry := flag.Duration("retry", watcher.DefaultReconnectDelay, "delay between reconnection attempts")
	attempts := flag.Int("attempts", watcher.DefaultMaxAttempts, "consecutive failed attempts before giving up")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gallery := watcher.NewGallery()
	p := &printer{
		out:     os.Stdout,
		human:   term.IsTerminal(int(os.Stdout.Fd())),
		user:    *user,
		gallery: gallery,
	}
	unsubscribe := gallery.Subscribe(p.change)
	defer unsubscribe()

	client := watcher.New(watcher.Config{
		URL:            *url,
		ReconnectDelay: *retry,
		MaxAttempts:    *attempts,
		OnState: func(s watcher.ConnState) {
			fmt.Fprintf(os.Stderr, "gallery-watch: %s %s\n", s, *url)
		},
	}, gallery)

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// ErrGaveUp lands here once the reconnect budget is spent.
		fmt.Fprintf(os.Stderr, "gallery-watch: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// printer writes one line per gallery change.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	human   bool
	user    string
	gallery *watcher.Gallery
}

type changeLine struct {
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
	AssetID  string    `json:"assetId,omitempty"`
	Total    int       `json:"total"`
	Favorite *bool     `json:"favorite,omitempty"`
}

func (p *printer) change(c watcher.Change) {
	line := changeLine{
		Time:    time.Now().UTC(),
		Type:    c.Type,
		AssetID: c.AssetID,
		Total:   p.gallery.Len(),
	}
	if p.user != "" && c.AssetID != "" {
		fav := p.gallery.Snapshot().Favorites[p.user][c.AssetID]
		line.Favorite = &fav
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.human {
		fmt.Fprintln(p.out, formatHuman(line))
		return
	}
	if err := json.NewEncoder(p.out).Encode(line); err != nil {
		fmt.Fprintf(os.Stderr, "gallery-watch: %v\n", err)
	}
}

func formatHuman(l changeLine) string {
	ts := l.Time.Local().Format("15:04:05")
	switch l.Type {
	case hub.TypeSnapshot:
		return fmt.Sprintf("%s  synced %d assets", ts, l.Total)
	case hub.TypeNewImage:
		return fmt.Sprintf("%s  + %s (%d total)", ts, l.AssetID, l.Total)
	case hub.TypeFavoriteUpdate:
		mark := "favorite changed"
		if l.Favorite != nil {
			mark = "unstarred"
			if *l.Favorite {
				mark = "starred"
			}
		}
		return fmt.Sprintf("%s  * %s %s", ts, l.AssetID, mark)
	case hub.TypeDerivedImage:
		return fmt.Sprintf("%s  ~ %s derived", ts, l.AssetID)
	case hub.TypeImageDeleted:
		return fmt.Sprintf("%s  - %s (%d total)", ts, l.AssetID, l.Total)
	default:
		return fmt.Sprintf("%s  %s %s", ts, l.Type, l.AssetID)
	}
}
