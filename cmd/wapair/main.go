// Command wapair links a tenant's WhatsApp account from the terminal, storing
// the device credentials where the server will resume them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/app"
	"github.com/talkincode/toughwa/internal/whatsapp"
)

var (
	conffile = flag.String("c", "", "config yaml file")
	tenant   = flag.String("tenant", "", "tenant (user) id to pair")
	timeout  = flag.Duration("timeout", 3*time.Minute, "give up after this long")
)

func main() {
	flag.Parse()
	if *tenant == "" {
		fmt.Fprintln(os.Stderr, "usage: wapair -tenant <user-id> [-c toughwa.yml]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*conffile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := pair(ctx, cfg, *tenant); err != nil {
		fmt.Fprintln(os.Stderr, "pair:", err)
		os.Exit(1)
	}
}

func pair(ctx context.Context, cfg *config.AppConfig, tenantID string) error {
	application := app.NewApplication(cfg)
	if err := application.Init(ctx); err != nil {
		return err
	}
	defer application.Release()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		application.Shutdown(closeCtx)
	}()

	s, _, err := application.Registry().Create(ctx, tenantID)
	if err != nil {
		return err
	}

	var lastQR string
	for {
		snap, err := s.Await(ctx)
		switch {
		case errors.Is(err, whatsapp.ErrSessionClosed):
			return fmt.Errorf("session ended: %s", snap.Reason)
		case err != nil:
			return err
		case snap.State == whatsapp.StateReady:
			fmt.Printf("Paired %s as %s\n", tenantID, snap.Phone)
			return nil
		case snap.QR != lastQR:
			lastQR = snap.QR
			fmt.Println("Scan with WhatsApp > Linked devices:")
			qrterminal.GenerateHalfBlock(snap.QR, qrterminal.L, os.Stdout)
		}
		// Await returns immediately while the QR is pending; poll for the next code.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
