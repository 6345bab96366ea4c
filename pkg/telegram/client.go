// Copyright 2024-2026 Aiku AI

package telegram

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/aiku/groupbackup/pkg/backup"
)

// Client owns the gotd client lifecycle and the userbot login flow.
type Client struct {
	inner *gotdtelegram.Client
	cfg   backup.TelegramConfig
	log   zerolog.Logger
}

// NewClient builds a gotd client with file-backed session storage and the
// given update handler.
func NewClient(cfg backup.TelegramConfig, handler gotdUpdateHandler, log zerolog.Logger) (*Client, error) {
	sessionPath, err := filepath.Abs(cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("resolve session file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(sessionPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	inner := gotdtelegram.NewClient(cfg.APIID, cfg.APIHash, gotdtelegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
		UpdateHandler:  handler,
	})

	return &Client{
		inner: inner,
		cfg:   cfg,
		log:   log.With().Str("component", "tg_client").Logger(),
	}, nil
}

// Inner exposes the wrapped gotd client for transport construction.
func (c *Client) Inner() *gotdtelegram.Client { return c.inner }

// Run starts the MTProto connection, authenticates if the stored session is
// not valid, and then invokes fn. It blocks until fn returns or ctx ends.
func (c *Client) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return c.inner.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return err
		}
		return fn(runCtx)
	})
}

func (c *Client) authenticate(ctx context.Context) error {
	status, err := c.inner.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		c.log.Info().Str("session_file", c.cfg.SessionFile).Msg("Session restored from storage")
		return nil
	}

	phone := strings.TrimSpace(c.cfg.Phone)
	if phone == "" {
		return fmt.Errorf("telegram.phone is required for first login")
	}

	codeAuthenticator := auth.CodeAuthenticatorFunc(func(_ context.Context, _ *tg.AuthSentCode) (string, error) {
		fmt.Fprint(os.Stdout, "Enter Telegram login code: ")
		code, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read login code: %w", err)
		}
		return strings.TrimSpace(code), nil
	})

	flow := auth.NewFlow(auth.CodeOnly(phone, codeAuthenticator), auth.SendCodeOptions{})
	if err := c.inner.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}

	c.log.Info().Str("session_file", c.cfg.SessionFile).Msg("Authorized with user flow")
	return nil
}
