package dashboard

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/coordinator"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/reconcile"
)

// OperationData describes one coordinated operation.
type OperationData struct {
	Op        string  `json:"op"`
	Key       string  `json:"key"`
	Phase     string  `json:"phase"` // started, finished
	Result    string  `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
	WaitedMS  float64 `json:"waited_ms"`
	ElapsedMS float64 `json:"elapsed_ms,omitempty"`
}

// ReconciledData summarizes a committed reconciliation pass.
type ReconciledData struct {
	Scope     string `json:"scope"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Deleted   int    `json:"deleted"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
	Items     int    `json:"items"`
	// Creators maps creator ids to display labels.
	Creators      map[string]string `json:"creators,omitempty"`
	IdentityError string            `json:"identity_error,omitempty"`
}

// StatsData contains the running totals since the handler was created.
type StatsData struct {
	Operations map[string]int `json:"operations"` // op -> finished count
	Failed     int            `json:"failed"`
	Cancelled  int            `json:"cancelled"`
	InFlight   int            `json:"in_flight"`
	Passes     int            `json:"passes"`
	MirrorRows int            `json:"mirror_rows"`
}

// Handler turns coordinator notifications into dashboard messages. It
// implements coordinator.Observer.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a handler broadcasting through server. The server's
// welcome message becomes the current stats.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}

	h := &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{Operations: make(map[string]int)},
	}
	server.SetWelcome(h.statsMessage)
	return h
}

func (h *Handler) OperationStarted(ev coordinator.Event) {
	h.mu.Lock()
	h.stats.InFlight++
	h.mu.Unlock()

	h.send(MessageTypeOperation, OperationData{
		Op:       string(ev.Op),
		Key:      ev.Key,
		Phase:    "started",
		WaitedMS: millis(ev.Waited),
	})
}

func (h *Handler) OperationFinished(ev coordinator.Event) {
	data := OperationData{
		Op:        string(ev.Op),
		Key:       ev.Key,
		Phase:     "finished",
		Result:    "ok",
		WaitedMS:  millis(ev.Waited),
		ElapsedMS: millis(ev.Elapsed),
	}

	h.mu.Lock()
	h.stats.Operations[string(ev.Op)]++
	switch {
	case ev.Err == nil:
		h.stats.InFlight--
	case errors.Is(ev.Err, cloud.ErrCancelled):
		// never started
		h.stats.Cancelled++
		data.Result = "cancelled"
	default:
		h.stats.InFlight--
		h.stats.Failed++
		data.Result = "error"
	}
	h.mu.Unlock()

	if ev.Err != nil {
		data.Error = ev.Err.Error()
		h.logger.Printf("%s %s failed: %v", ev.Op, ev.Key, ev.Err)
	}

	h.send(MessageTypeOperation, data)
	h.broadcastStats()
}

func (h *Handler) Reconciled(result *reconcile.Result) {
	data := ReconciledData{
		Scope:     result.Scope.String(),
		Inserted:  result.Inserted,
		Updated:   result.Updated,
		Deleted:   result.Deleted,
		Unchanged: result.Unchanged,
		Skipped:   result.Skipped,
		Items:     len(result.Items),
	}
	if len(result.Items) > 0 {
		data.Creators = make(map[string]string)
		for _, item := range result.Items {
			data.Creators[item.CreatorID] = result.Label(item.CreatorID)
		}
	}
	if result.IdentityErr != nil {
		data.IdentityError = result.IdentityErr.Error()
	}

	h.mu.Lock()
	h.stats.Passes++
	h.stats.MirrorRows += result.Changed()
	h.mu.Unlock()

	h.send(MessageTypeReconciled, data)
}

// GetStats returns a copy of the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.stats
	out.Operations = make(map[string]int, len(h.stats.Operations))
	for k, v := range h.stats.Operations {
		out.Operations[k] = v
	}
	return out
}

func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) statsMessage() Message {
	msg := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	data, err := json.Marshal(h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return msg
	}
	msg.Data = data
	return msg
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
