package notifications

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/models"
)

func completedJob() *models.BackupJob {
	now := time.Now().UTC()
	job := models.NewBackupJob(uuid.New(), uuid.New(), models.BackupKindFull,
		nil, models.BackupConfig{DataClasses: []models.DataClass{models.DataClassGameFiles}}, now)
	job.Start(now)
	job.Complete(2048, now)
	return job
}

func TestBackupFinishedDeliversSignedPayload(t *testing.T) {
	const secret = "test-secret"
	var gotBody []byte
	var gotSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-CraftVault-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, secret, zerolog.Nop())
	job := completedJob()
	n.BackupFinished(context.Background(), job)

	var payload WebhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.EventType != "backup.completed" {
		t.Fatalf("event = %q, want backup.completed", payload.EventType)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}
}

func TestSendRetriesOnServerError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", zerolog.Nop())
	n.RecoveryFinished(context.Background(), &models.RecoveryJob{
		ID:    uuid.New(),
		State: models.JobStateFailed,
	})

	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestNilNotifierIsNoop(t *testing.T) {
	var n *WebhookNotifier
	n.BackupFinished(context.Background(), completedJob())
}
