package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/config"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// Dashboard is the event-sink half of the Dashboard contract: it turns
// ProgressCallback hooks into signed webhook pushes so an external status
// page can follow a batch without polling the statestore. A Dashboard with
// cfg.Enabled false is a safe no-op, so Orchestrator.SetProgress(d.Callback())
// is always wireable regardless of configuration.
type Dashboard struct {
	cfg    config.Dashboard
	client *http.Client
	log    *zap.SugaredLogger
}

func NewDashboard(cfg config.Dashboard) *Dashboard {
	return &Dashboard{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    zap.S().Named("dashboard"),
	}
}

// webhookEvent is the JSON body posted to cfg.WebhookURL for every hook.
type webhookEvent struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	State     *v1.BatchState `json:"state,omitempty"`
	VM        *v1.VMJob      `json:"vm,omitempty"`
}

// dashboardClaims signs every webhook push with a one-minute-lived token so
// a receiver can verify the push came from this orchestrator without a
// long-lived shared secret traveling on the wire.
type dashboardClaims struct {
	Event string `json:"event"`
	jwt.RegisteredClaims
}

// Callback returns the ProgressCallback an Orchestrator should attach to
// drive this Dashboard.
func (d *Dashboard) Callback() ProgressCallback {
	return ProgressCallback{
		OnBatchStart: func(state *v1.BatchState) {
			d.push("batch_start", webhookEvent{State: state})
		},
		OnWaveComplete: func(waveIndex int, succeeded, failed int) {
			d.log.Infow("wave complete", "wave", waveIndex, "succeeded", succeeded, "failed", failed)
		},
		OnWavePause: func(waveIndex int, reason string) {
			d.log.Infow("wave paused", "wave", waveIndex, "reason", reason)
		},
		OnVMComplete: func(job *v1.VMJob) {
			d.push("vm_complete", webhookEvent{VM: job})
		},
		OnVMFailed: func(job *v1.VMJob, err error) {
			d.push("vm_failed", webhookEvent{VM: job})
		},
		OnBatchComplete: func(state *v1.BatchState) {
			d.push("batch_complete", webhookEvent{State: state})
		},
	}
}

func (d *Dashboard) push(event string, ev webhookEvent) {
	if !d.cfg.Enabled || d.cfg.WebhookURL == "" {
		return
	}
	ev.Event = event
	ev.Timestamp = time.Now()

	body, err := json.Marshal(ev)
	if err != nil {
		d.log.Warnw("failed to marshal dashboard event", "event", event, "error", err)
		return
	}

	token, err := d.sign(event)
	if err != nil {
		d.log.Warnw("failed to sign dashboard token", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		d.log.Warnw("failed to build dashboard request", "event", event, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warnw("dashboard push failed", "event", event, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.log.Warnw("dashboard rejected push", "event", event, "status", resp.StatusCode)
	}
}

func (d *Dashboard) sign(event string) (string, error) {
	now := time.Now()
	claims := dashboardClaims{
		Event: event,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "vmware2scw-orchestrator",
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(d.cfg.JWTSecret))
	if err != nil {
		return "", vmerrors.NewConfigurationError("signing dashboard webhook token: %v", err)
	}
	return signed, nil
}
