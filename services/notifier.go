// services/notifier.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"challenge-proof-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notifier dispatches a decision notice to the member. Fire-and-forget:
// delivery is the notification service's problem, this core only records
// whether the handoff happened.
type Notifier interface {
	Notify(userID, participationID string, kind models.NotificationKind, payload map[string]interface{})
}

type NotificationClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
	DB      *gorm.DB
}

func NewNotificationClient(db *gorm.DB, baseURL, token string) *NotificationClient {
	return &NotificationClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
		DB: db,
	}
}

// Notify records the notification and posts it to the notification service.
// Failures are logged, never returned — the participation decision has
// already committed and must not depend on this.
func (c *NotificationClient) Notify(userID, participationID string, kind models.NotificationKind, payload map[string]interface{}) {
	payloadJSON, _ := json.Marshal(payload)

	record := models.Notification{
		ID:              uuid.NewString(),
		UserID:          userID,
		ParticipationID: participationID,
		Kind:            kind,
		Payload:         string(payloadJSON),
		Sent:            false,
	}
	if err := c.DB.Create(&record).Error; err != nil {
		log.Printf("❌ Failed to record %s notification for user %s: %v", kind, userID, err)
		return
	}

	if err := c.dispatch(userID, kind, payloadJSON); err != nil {
		log.Printf("⚠️ Notification dispatch failed for user %s (%s): %v", userID, kind, err)
		return
	}

	now := time.Now()
	if err := c.DB.Model(&record).Updates(map[string]interface{}{"sent": true, "sent_at": now}).Error; err != nil {
		log.Printf("❌ Failed to mark notification %s as sent: %v", record.ID, err)
	}
}

func (c *NotificationClient) dispatch(userID string, kind models.NotificationKind, payloadJSON []byte) error {
	body, _ := json.Marshal(map[string]interface{}{
		"user_id": userID,
		"kind":    kind,
		"payload": json.RawMessage(payloadJSON),
	})

	req, err := http.NewRequest("POST", c.BaseURL+"/v1/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("notification service returned %d", resp.StatusCode)
	}
	return nil
}
