package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"resonance-engine/controlplane"
	"resonance-engine/core"
	"resonance-engine/pkg/config"
	"resonance-engine/transport/audience"
	"resonance-engine/transport/performer"
)

var sessionCmd = &cobra.Command{Use: "session", Short: "manage a running performance session"}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "start a session and serve its transports until interrupted",
	RunE:  sessionStart,
}

func init() {
	sessionStartCmd.Flags().String("audience-addr", ":8081", "listen address for the audience websocket channel")
	sessionStartCmd.Flags().String("performer-addr", ":8082", "listen address for the performer websocket channel")
	sessionStartCmd.Flags().String("controlplane-addr", ":8090", "listen address for the control plane diagnostics surface")
	sessionCmd.AddCommand(sessionStartCmd)
}

func sessionStart(cmd *cobra.Command, _ []string) error {
	cfg, defs, venue, err := loadAll(cmd)
	if err != nil {
		return err
	}
	audienceAddr, _ := cmd.Flags().GetString("audience-addr")
	performerAddr, _ := cmd.Flags().GetString("performer-addr")
	controlAddr, _ := cmd.Flags().GetString("controlplane-addr")

	if lvl, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
		log.SetLevel(lvl)
	}
	logEntry := log.WithField("component", "engine")

	oscAddr := ""
	if cfg.OSC.Enabled {
		oscAddr = fmt.Sprintf("%s:%d", cfg.OSC.Host, cfg.OSC.Port)
	}

	sessCfg := core.SessionConfig{
		SessionID:          uuid.NewString(),
		Parameters:         defs,
		Venue:              venue,
		Weighting:          cfg.ResolveWeighting(),
		TickPeriodMs:       int64(cfg.Tick.ConsensusIntervalMs),
		BatchPeriodMs:      int64(cfg.Tick.BatchIntervalMs),
		RateLimitMs:        cfg.Ingress.RateLimitMs,
		MaxInputsPerClient: cfg.Ingress.MaxInputsPerClient,
		OSCAddr:            oscAddr,
		TelemetryLogPath:   cfg.Logging.File,
	}

	session, err := core.NewSession(sessCfg, clock.New(), core.NewMemoryStore(), logEntry)
	if err != nil {
		return fmt.Errorf("construct session: %w", err)
	}
	if err := session.Start(); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logEntry.WithField("session_id", session.ID()).Info("session started")

	audienceMux := http.NewServeMux()
	audienceMux.Handle("/audience", audience.NewHandler(session, defs, logEntry))
	audienceSrv := &http.Server{Addr: audienceAddr, Handler: audienceMux}

	performerMux := http.NewServeMux()
	performerMux.Handle("/performer", performer.NewHandler(session, performer.AuthConfig{
		Secret:        cfg.Performer.Secret,
		AuthTimeoutMs: int64(cfg.Performer.AuthTimeoutMs),
		Permissions: core.PerformerPermissions{
			CanOverride:     cfg.Features.AllowPerformerOverride,
			CanPause:        true,
			CanEnd:          true,
			CanModifyConfig: false,
		},
	}, logEntry))
	performerSrv := &http.Server{Addr: performerAddr, Handler: performerMux}

	controlSrv := controlplane.NewServer(session, controlAddr)

	errCh := make(chan error, 3)
	go func() { errCh <- listenAndServe(audienceSrv, "audience", logEntry) }()
	go func() { errCh <- listenAndServe(performerSrv, "performer", logEntry) }()
	go func() { errCh <- listenAndServe(controlSrv, "controlplane", logEntry) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logEntry.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logEntry.WithError(err).Error("transport listener failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = audienceSrv.Shutdown(shutdownCtx)
	_ = performerSrv.Shutdown(shutdownCtx)
	_ = controlSrv.Shutdown(shutdownCtx)

	if err := session.End(); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	logEntry.Info("session ended")
	return nil
}

func listenAndServe(srv *http.Server, name string, log *logrus.Entry) error {
	log.Infof("%s listening on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
