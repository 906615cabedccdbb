package dispatch

import (
	"fmt"
	"runtime/debug"
	"time"

	"roombot/pkg/logx"
)

type HandlerFunc func(req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(req *Request) error {
			start := time.Now()
			err := next(req)
			fields := []logx.Field{
				logx.String("cmd", req.Command),
				logx.String("from", req.Event.SenderHandle),
				logx.Bool("mod", req.Event.IsModerator),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				req.Logger.Debug("command ok", fields...)
			}
			return err
		}
	}
}

// MWModeratorOnly drops requests from non-moderators for commands that require it.
func MWModeratorOnly(isMod func(req *Request) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(req *Request) error {
			if req.Access == AccessModerator && !isMod(req) {
				req.Logger.Info("moderator command denied", logx.String("cmd", req.Command), logx.String("from", req.Event.SenderHandle))
				return nil
			}
			return next(req)
		}
	}
}
