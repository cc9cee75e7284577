package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"directchat/internal/config"
	clog "directchat/internal/log"
	"directchat/internal/mw"
	"directchat/internal/realtime"
	"directchat/internal/server"
	"directchat/internal/store"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责加载配置、初始化日志与存储、启动 HTTP/WebSocket 服务，并在收到信号后按顺序优雅停服。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store open")
	}
	// 监听之前不可能有在线连接，清掉上次进程残留的在线标记。
	if err := st.ResetPresence(ctx); err != nil {
		log.Fatal().Err(err).Msg("reset presence")
	}

	hub := realtime.NewHub(st, realtime.Options{
		PreviewLen:     cfg.NotifyPreviewLen,
		SendBuffer:     cfg.WSSendBuffer,
		AllowedOrigins: cfg.CORSOrigins,
	})
	limiter := mw.NewRateLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst, 2*time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, server.Deps{Store: st, Hub: hub, Limiter: limiter}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("driver", cfg.StoreDriver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			// Shutdown does not wait for hijacked websocket connections.
			err := srv.Shutdown(ctx)
			hub.CloseAll()
			for hub.Registry().Len() > 0 && ctx.Err() == nil {
				time.Sleep(20 * time.Millisecond)
			}
			return err
		},
		"ratelimit": func(context.Context) error {
			limiter.Stop()
			return nil
		},
	})
	code := <-wait

	// 存储最后关闭：CloseAll 触发的断开流程仍会写入在线状态。
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := st.Close(closeCtx); err != nil {
		log.Error().Err(err).Msg("store close")
		code = 1
	}
	log.Info().Int("code", code).Msg("stopped")
	cancel()
	os.Exit(code)
}
