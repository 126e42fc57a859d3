package chat

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

// HandlerFunc handles one update routed to it.
type HandlerFunc func(ctx context.Context, req *Request) error

// Registrar is handed to Handler.Init to register update handlers.
// Patterns are regular expressions matched at the start of the message
// text, inline query or callback data; their submatches are exposed as
// Request.Match. Handlers are tried in registration order.
type Registrar interface {
	// AddCommand routes messages whose text matches pattern.
	AddCommand(pattern string, fn HandlerFunc) error
	// SetDefault handles messages no command matched. It only receives
	// private chats unless the bot is configured with DefaultInGroups.
	SetDefault(fn HandlerFunc)
	// AddInline routes inline queries whose text matches pattern.
	AddInline(pattern string, fn HandlerFunc) error
	// AddCallback routes callback queries whose data matches pattern.
	AddCallback(pattern string, fn HandlerFunc) error
}

// Handler is implemented by application code receiving chat updates.
type Handler interface {
	Init(r Registrar) error
}

// dispatchFunc runs a routed update in the background.
type dispatchFunc func(ctx context.Context, req *Request)

type route struct {
	pattern string
	re      *regexp.Regexp
	run     dispatchFunc
}

// router implements Registrar. Every registered function is wrapped by
// graceful before it is stored, so the dispatcher only ever sees tracked
// functions.
type router struct {
	graceful func(pattern string, fn HandlerFunc) dispatchFunc

	mu        sync.RWMutex
	commands  []route
	inline    []route
	callbacks []route
	fallback  dispatchFunc
}

func newRouter(graceful func(pattern string, fn HandlerFunc) dispatchFunc) *router {
	return &router{graceful: graceful}
}

func (r *router) compile(pattern string, fn HandlerFunc) (route, error) {
	if fn == nil {
		return route{}, fmt.Errorf("pattern %q: nil handler", pattern)
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return route{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return route{pattern: pattern, re: re, run: r.graceful(pattern, fn)}, nil
}

func (r *router) AddCommand(pattern string, fn HandlerFunc) error {
	rt, err := r.compile(pattern, fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.commands = append(r.commands, rt)
	r.mu.Unlock()
	return nil
}

func (r *router) SetDefault(fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		r.fallback = nil
		return
	}
	r.fallback = r.graceful("default", fn)
}

func (r *router) AddInline(pattern string, fn HandlerFunc) error {
	rt, err := r.compile(pattern, fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.inline = append(r.inline, rt)
	r.mu.Unlock()
	return nil
}

func (r *router) AddCallback(pattern string, fn HandlerFunc) error {
	rt, err := r.compile(pattern, fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.callbacks = append(r.callbacks, rt)
	r.mu.Unlock()
	return nil
}

// resolve picks the handler for u and returns it with the regexp submatches.
// A nil dispatchFunc means nothing handles the update.
func (r *router) resolve(u Update, defaultInGroups bool) (dispatchFunc, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch u.Kind() {
	case KindMessage:
		if u.Message.Text == "" {
			return nil, nil
		}
		if run, m := match(r.commands, u.Message.Text); run != nil {
			return run, m
		}
		if r.fallback != nil && (u.Message.Chat.Private() || defaultInGroups) {
			return r.fallback, nil
		}
	case KindInline:
		return match(r.inline, u.InlineQuery.Query)
	case KindCallback:
		return match(r.callbacks, u.CallbackQuery.Data)
	}
	return nil, nil
}

func match(routes []route, text string) (dispatchFunc, []string) {
	for _, rt := range routes {
		if m := rt.re.FindStringSubmatch(text); m != nil {
			return rt.run, m
		}
	}
	return nil, nil
}
