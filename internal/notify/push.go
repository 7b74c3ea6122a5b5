package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jssehgal/ride-share-office/internal/models"
)

// Notifier delivers a notification to a user, best effort.
type Notifier interface {
	Notify(userID string, n models.Notification) error
}

// PushNotifier tries the user's live websocket session first and falls back
// to posting the payload to an HTTP push endpoint.
type PushNotifier struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushNotifier(endpoint string, ws *WSRegistry) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushNotifier) Notify(userID string, n models.Notification) error {
	if p.WS != nil {
		if err := p.WS.Notify(userID, n); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return nil
	}
	b, _ := json.Marshal(map[string]any{"user_id": userID, "notification": n})
	_, _ = p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	return nil
}
