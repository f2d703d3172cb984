package notify

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tradewatch/alertd/internal/model"
)

// Task type names.
const (
	TypeEmail    = "notify:email"
	TypeTelegram = "notify:telegram"
)

// Queue names by priority. Terminal transitions go critical.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// AlertDetails is a self-contained snapshot of the alert at transition
// time. Jobs must not reach back into the live cache.
type AlertDetails struct {
	TradingSymbol string         `json:"trading_symbol"`
	Status        model.Status   `json:"status"`
	CurrentPrice  float64        `json:"current_price"`
	EntryPrice    float64        `json:"entry_price"`
	StopLoss      float64        `json:"stop_loss"`
	TargetPrice   float64        `json:"target_price"`
	Position      model.Position `json:"position"`
	TradeType     string         `json:"trade_type"`
	Level         int            `json:"level"`
	TriggeredAt   time.Time      `json:"triggered_at"`
}

// Payload is the queue-job body for both channels. UserID identifies the
// owner so a permanent failure can disable the channel.
type Payload struct {
	Recipient    string       `json:"recipient"`
	UserID       int64        `json:"user_id"`
	AlertDetails AlertDetails `json:"alertDetails"`
}

func snapshot(a *model.Alert, price float64) AlertDetails {
	return AlertDetails{
		TradingSymbol: a.TradingSymbol,
		Status:        a.Status,
		CurrentPrice:  price,
		EntryPrice:    a.EntryPrice,
		StopLoss:      a.StopLoss,
		TargetPrice:   a.TargetPrice,
		Position:      a.Position,
		TradeType:     a.TradeType,
		Level:         a.Level,
		TriggeredAt:   time.Now().UTC(),
	}
}

func newTask(taskType, recipient string, userID int64, details AlertDetails) (*asynq.Task, error) {
	data, err := json.Marshal(Payload{Recipient: recipient, UserID: userID, AlertDetails: details})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}
